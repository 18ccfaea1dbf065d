// Package profiles persists saved connection profiles and server settings
// in SQLite.
package profiles

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shellmux/shellmux/internal/config"
)

var DB *gorm.DB

// Init opens the SQLite database, enables WAL, and migrates the schema.
// When config.Cfg.ProfileSeedPath is set, profiles are seeded from it.
func Init() error {
	dbPath := config.Cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(config.Cfg.DataPath, "shellmux.db")
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Profile{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if path := config.Cfg.ProfileSeedPath; path != "" {
		if err := seedFromFile(path); err != nil {
			return fmt.Errorf("seed profiles: %w", err)
		}
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// seedProfile is the YAML shape for bootstrap profile import. Credentials
// in the seed file are plaintext and encrypted by the caller before use;
// the seed path is meant for host/user bookkeeping, not secrets.
type seedProfile struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
}

// seedFromFile imports profiles from a YAML list, skipping names that
// already exist.
func seedFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var seeds []seedProfile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	imported := 0
	for _, s := range seeds {
		if s.Name == "" || s.Host == "" || s.Username == "" {
			continue
		}
		if s.Port == 0 {
			s.Port = 22
		}
		var count int64
		DB.Model(&Profile{}).Where("name = ?", s.Name).Count(&count)
		if count > 0 {
			continue
		}
		if err := DB.Create(&Profile{
			Name:     s.Name,
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
		}).Error; err != nil {
			return fmt.Errorf("seed profile %s: %w", s.Name, err)
		}
		imported++
	}
	if imported > 0 {
		log.Printf("[profiles] imported %d profiles from %s", imported, path)
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

func Create(p *Profile) error {
	if p.Port == 0 {
		p.Port = 22
	}
	return DB.Create(p).Error
}

func Get(id uint) (*Profile, error) {
	var p Profile
	if err := DB.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func GetByName(name string) (*Profile, error) {
	var p Profile
	if err := DB.Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns profiles most-recently-used first, then by name.
func List() ([]Profile, error) {
	var ps []Profile
	if err := DB.Order("last_used_at DESC, name").Find(&ps).Error; err != nil {
		return nil, err
	}
	return ps, nil
}

func Update(p *Profile) error {
	return DB.Save(p).Error
}

func Delete(id uint) error {
	return DB.Delete(&Profile{}, id).Error
}

// RecordConnection bumps the profile's usage bookkeeping after a
// successful connect.
func RecordConnection(id uint) error {
	return DB.Model(&Profile{}).Where("id = ?", id).Updates(map[string]interface{}{
		"use_count":    gorm.Expr("use_count + 1"),
		"last_used_at": time.Now(),
	}).Error
}
