package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/shellmux/shellmux/internal/collab"
	"github.com/shellmux/shellmux/internal/connection"
	"github.com/shellmux/shellmux/internal/events"
	"github.com/shellmux/shellmux/internal/registry"
	"github.com/shellmux/shellmux/internal/scheduler"
)

type noopTransport struct{}

func (noopTransport) Open(ctx context.Context, cfg connection.ConnectionConfig) error { return nil }
func (noopTransport) Close() error                                                    { return nil }
func (noopTransport) Write(p []byte) (int, error)                                     { return len(p), nil }
func (noopTransport) OnData(fn func(p []byte))                                        {}
func (noopTransport) Resize(cols, rows uint16) error                                  { return nil }

func setupTestAPI(t *testing.T) *chi.Mux {
	t.Helper()
	bus := events.NewBus()
	Sessions = connection.NewManager(bus, connection.Options{
		TransportFactory:  func() connection.Transport { return noopTransport{} },
		RateLimitAttempts: 1000,
	})
	Tabs = registry.New(Sessions, bus, 3, 0)
	Collab = collab.NewHub(bus, scheduler.NewFake(), collab.Options{})

	r := chi.NewRouter()
	r.Get("/health", Health)
	r.Get("/tabs", ListTabs)
	r.Post("/tabs", CreateTab)
	r.Post("/tabs/{tabID}/connect", ConnectTab)
	r.Post("/tabs/{tabID}/activate", ActivateTab)
	r.Delete("/tabs/{tabID}", CloseTab)
	r.Get("/sessions/{sessionID}/metrics", SessionMetrics)
	r.Get("/sessions/{sessionID}/events", SessionEvents)
	r.Post("/sessions/{sessionID}/mobile", OptimizeMobile)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createTab(t *testing.T, r http.Handler, host string) (tabID, sessionID string) {
	t.Helper()
	body := fmt.Sprintf(`{"host":%q,"username":"alice","password":"secret"}`, host)
	w := doJSON(t, r, http.MethodPost, "/tabs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create tab: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Tab       registry.Tab `json:"tab"`
		SessionID string       `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Tab.ID, resp.SessionID
}

func TestCreateAndListTabs(t *testing.T) {
	r := setupTestAPI(t)

	tabID, sessionID := createTab(t, r, "one.example.com")
	if tabID == "" || sessionID == "" {
		t.Fatal("missing ids in create response")
	}

	w := doJSON(t, r, http.MethodGet, "/tabs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var resp struct {
		Tabs    []registry.Tab `json:"tabs"`
		MaxTabs int            `json:"max_tabs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tabs) != 1 || resp.Tabs[0].ID != tabID {
		t.Errorf("unexpected tabs %+v", resp.Tabs)
	}
	if resp.MaxTabs != 3 {
		t.Errorf("max_tabs %d", resp.MaxTabs)
	}
}

func TestCreateTabValidation(t *testing.T) {
	r := setupTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/tabs", `{"host":"","username":"alice","password":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty host: status %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/tabs", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status %d", w.Code)
	}
}

func TestCreateTabAtCap(t *testing.T) {
	r := setupTestAPI(t)

	for i := 0; i < 3; i++ {
		createTab(t, r, fmt.Sprintf("h%d.example.com", i))
	}

	w := doJSON(t, r, http.MethodPost, "/tabs",
		`{"host":"extra.example.com","username":"alice","password":"x"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("over cap: status %d body %s", w.Code, w.Body.String())
	}
}

func TestActivateAndCloseTab(t *testing.T) {
	r := setupTestAPI(t)
	tabID, _ := createTab(t, r, "one.example.com")

	if w := doJSON(t, r, http.MethodPost, "/tabs/"+tabID+"/activate", ""); w.Code != http.StatusOK {
		t.Errorf("activate: status %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/tabs/tab-unknown/activate", ""); w.Code != http.StatusNotFound {
		t.Errorf("activate unknown: status %d", w.Code)
	}

	if w := doJSON(t, r, http.MethodDelete, "/tabs/"+tabID, ""); w.Code != http.StatusOK {
		t.Errorf("close: status %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodDelete, "/tabs/"+tabID, ""); w.Code != http.StatusNotFound {
		t.Errorf("close again: status %d", w.Code)
	}
}

func TestConnectTab(t *testing.T) {
	r := setupTestAPI(t)
	tabID, _ := createTab(t, r, "one.example.com")

	w := doJSON(t, r, http.MethodPost, "/tabs/"+tabID+"/connect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("connect: status %d body %s", w.Code, w.Body.String())
	}
	var tab registry.Tab
	if err := json.Unmarshal(w.Body.Bytes(), &tab); err != nil {
		t.Fatal(err)
	}
	if tab.Status != registry.TabConnected {
		t.Errorf("status %q after connect", tab.Status)
	}

	if w := doJSON(t, r, http.MethodPost, "/tabs/tab-unknown/connect", ""); w.Code != http.StatusNotFound {
		t.Errorf("connect unknown: status %d", w.Code)
	}
}

func TestSessionMetricsAndEvents(t *testing.T) {
	r := setupTestAPI(t)
	_, sessionID := createTab(t, r, "one.example.com")

	w := doJSON(t, r, http.MethodGet, "/sessions/"+sessionID+"/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/sessions/unknown/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics unknown: status %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/sessions/"+sessionID+"/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("events: status %d", w.Code)
	}
	var resp struct {
		Events []connection.LifecycleEvent `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) == 0 {
		t.Error("expected at least the created event")
	}

	if w := doJSON(t, r, http.MethodPost, "/sessions/"+sessionID+"/mobile", ""); w.Code != http.StatusOK {
		t.Errorf("mobile: status %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r := setupTestAPI(t)
	createTab(t, r, "one.example.com")

	w := doJSON(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health: status %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status %v", resp["status"])
	}
	if resp["tabs"] != float64(1) {
		t.Errorf("tabs %v", resp["tabs"])
	}
}
