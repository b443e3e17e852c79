package options

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/YJPM/ti-options/plugins/options/llm"
	"github.com/gin-gonic/gin"
)

func setupRouter(t *testing.T, h *harness) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(h.svc).Register(r.Group("/api/plugins/options"))
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func errorKey(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	key, _ := resp["error_key"].(string)
	return key
}

func TestGetSettingsMasksKey(t *testing.T) {
	h := newHarness(t, Options{})
	r := setupRouter(t, h)

	w := doJSON(r, "GET", "/api/plugins/options/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st Settings
	json.Unmarshal(w.Body.Bytes(), &st)
	if st.OptionsAPIKey != "sk-t****6789" {
		t.Errorf("key = %q", st.OptionsAPIKey)
	}
	if strings.Contains(w.Body.String(), "0123456789") {
		t.Error("response leaks the api key")
	}
}

func TestUpdateSettingsPartial(t *testing.T) {
	h := newHarness(t, Options{})
	r := setupRouter(t, h)

	w := doJSON(r, "PUT", "/api/plugins/options/settings", `{"sendMode":"multi","optionsApiKey":"sk-t****6789"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := h.store.Load()
	if got.SendMode != SendModeMulti || got.OptionsAPIKey != "sk-test-0123456789" {
		t.Errorf("stored = sendMode %q key %q", got.SendMode, got.OptionsAPIKey)
	}
	if !got.Enabled || got.CustomText != "正在输入…" {
		t.Error("fields absent from the request were reset")
	}

	w = doJSON(r, "PUT", "/api/plugins/options/settings", `{"sendMode":"sometimes"}`)
	if w.Code != http.StatusBadRequest || errorKey(t, w) != "error.invalid_settings" {
		t.Errorf("invalid update: %d %s", w.Code, w.Body.String())
	}
}

func TestResetSettingsEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	r := setupRouter(t, h)

	w := doJSON(r, "POST", "/api/plugins/options/settings/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if h.store.Load() != DefaultSettings() {
		t.Error("settings not reset")
	}
}

func TestGenerateEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	r := setupRouter(t, h)

	w := doJSON(r, "POST", "/api/plugins/options/generate", "")
	if w.Code != http.StatusServiceUnavailable || errorKey(t, w) != "error.no_bridge" {
		t.Fatalf("without bridge: %d %s", w.Code, w.Body.String())
	}

	h.connect(t, sampleChat)
	w = doJSON(r, "POST", "/api/plugins/options/generate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res CycleResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Suggestions) != 2 {
		t.Errorf("suggestions = %q", res.Suggestions)
	}

	w = doJSON(r, "GET", "/api/plugins/options/view", "")
	var view struct {
		Options ViewModel `json:"options"`
		Busy    bool      `json:"busy"`
	}
	json.Unmarshal(w.Body.Bytes(), &view)
	if view.Options.State != ViewReady || len(view.Options.Options) != 2 || view.Busy {
		t.Errorf("view = %+v", view)
	}

	w = doJSON(r, "POST", "/api/plugins/options/options/0/click", "")
	if w.Code != http.StatusOK {
		t.Fatalf("click status = %d", w.Code)
	}
	var click ClickResult
	json.Unmarshal(w.Body.Bytes(), &click)
	if click.Text != "go left" || !click.Sent {
		t.Errorf("click = %+v", click)
	}

	w = doJSON(r, "GET", "/api/plugins/options/history", "")
	var recs []map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 1 {
		t.Errorf("history = %s", w.Body.String())
	}
}

func TestGenerateEndpointErrors(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect(t, sampleChat)
	r := setupRouter(t, h)

	h.svc.Generator.busy.Store(true)
	w := doJSON(r, "POST", "/api/plugins/options/generate", "")
	if w.Code != http.StatusConflict || errorKey(t, w) != "error.busy" {
		t.Errorf("busy: %d %s", w.Code, w.Body.String())
	}
	h.svc.Generator.busy.Store(false)

	h.provider.err = &llm.APIError{StatusCode: 429, Body: "slow down"}
	w = doJSON(r, "POST", "/api/plugins/options/retry", "")
	if w.Code != http.StatusBadGateway || errorKey(t, w) != "error.upstream" {
		t.Errorf("upstream: %d %s", w.Code, w.Body.String())
	}

	h.provider.err = nil
	h.update(func(s *Settings) { s.OptionsAPIKey = "" })
	w = doJSON(r, "POST", "/api/plugins/options/generate", "")
	if w.Code != http.StatusBadRequest || errorKey(t, w) != "error.not_configured" {
		t.Errorf("not configured: %d %s", w.Code, w.Body.String())
	}
}

func TestClickEndpointErrors(t *testing.T) {
	h := newHarness(t, Options{})
	r := setupRouter(t, h)

	w := doJSON(r, "POST", "/api/plugins/options/options/x/click", "")
	if w.Code != http.StatusBadRequest || errorKey(t, w) != "error.invalid_index" {
		t.Errorf("bad index: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(r, "POST", "/api/plugins/options/options/3/click", "")
	if w.Code != http.StatusNotFound || errorKey(t, w) != "error.no_such_option" {
		t.Errorf("missing option: %d %s", w.Code, w.Body.String())
	}
}

func TestTestConnectionEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	r := setupRouter(t, h)

	w := doJSON(r, "POST", "/api/plugins/options/settings/test", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "gpt-4o-mini") {
		t.Errorf("stored settings: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, "POST", "/api/plugins/options/settings/test", `{"optionsApiKey":"sk-t****6789","optionsApiModel":"other"}`)
	if w.Code != http.StatusOK {
		t.Errorf("override with masked key: %d %s", w.Code, w.Body.String())
	}
}

func TestDirectorEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	r := setupRouter(t, h)

	w := doJSON(r, "GET", "/api/plugins/options/director", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"enabled":false`) {
		t.Errorf("director off: %s", w.Body.String())
	}

	hd := newHarness(t, Options{DirectorEnabled: true})
	w = doJSON(setupRouter(t, hd), "GET", "/api/plugins/options/director", "")
	if !strings.Contains(w.Body.String(), `"state":"IDLE"`) {
		t.Errorf("director on: %s", w.Body.String())
	}
}
