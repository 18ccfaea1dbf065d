package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shellmux/shellmux/internal/config"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	config.Cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.Cfg.ProfileSeedPath = ""
	if err := Init(); err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { Close() })
}

func TestProfileCRUD(t *testing.T) {
	setupTestDB(t)

	p := &Profile{Name: "staging", Host: "staging.example.com", Username: "deploy"}
	if err := Create(p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("no id assigned")
	}
	if p.Port != 22 {
		t.Errorf("port not defaulted: %d", p.Port)
	}

	got, err := Get(p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "staging" || got.Host != "staging.example.com" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	byName, err := GetByName("staging")
	if err != nil || byName.ID != p.ID {
		t.Errorf("get by name: %v %+v", err, byName)
	}

	if err := Delete(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := Get(p.ID); err == nil {
		t.Error("profile still present after delete")
	}
}

func TestProfileNameIsUnique(t *testing.T) {
	setupTestDB(t)

	if err := Create(&Profile{Name: "dup", Host: "a", Username: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := Create(&Profile{Name: "dup", Host: "b", Username: "u"}); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestRecordConnection(t *testing.T) {
	setupTestDB(t)

	p := &Profile{Name: "prod", Host: "prod.example.com", Username: "deploy"}
	if err := Create(p); err != nil {
		t.Fatal(err)
	}

	if err := RecordConnection(p.ID); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := RecordConnection(p.ID); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := Get(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UseCount != 2 {
		t.Errorf("use count %d", got.UseCount)
	}
	if got.LastUsedAt.IsZero() {
		t.Error("last used not set")
	}
}

func TestSettings(t *testing.T) {
	setupTestDB(t)

	if _, err := GetSetting("missing"); err == nil {
		t.Error("expected error for missing setting")
	}
	if err := SetSetting("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := SetSetting("k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, err := GetSetting("k"); err != nil || v != "v2" {
		t.Errorf("got %q, %v", v, err)
	}
}

func TestSeedFromFile(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "profiles.yaml")
	seed := `- name: web-1
  host: web1.example.com
  username: admin
- name: web-2
  host: web2.example.com
  port: 2222
  username: admin
- name: ""
  host: skipped.example.com
  username: nobody
`
	if err := os.WriteFile(seedPath, []byte(seed), 0644); err != nil {
		t.Fatal(err)
	}

	config.Cfg.DatabasePath = filepath.Join(dir, "test.db")
	config.Cfg.ProfileSeedPath = seedPath
	if err := Init(); err != nil {
		t.Fatalf("init with seed: %v", err)
	}
	t.Cleanup(func() { Close() })

	ps, err := List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 seeded profiles, got %d", len(ps))
	}

	p, err := GetByName("web-2")
	if err != nil {
		t.Fatal(err)
	}
	if p.Port != 2222 {
		t.Errorf("seeded port %d", p.Port)
	}

	// Re-running the seed must not duplicate rows.
	Close()
	if err := Init(); err != nil {
		t.Fatal(err)
	}
	ps, _ = List()
	if len(ps) != 2 {
		t.Errorf("seed re-import duplicated rows: %d", len(ps))
	}
}
