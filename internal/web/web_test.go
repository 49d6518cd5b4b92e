package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"epd4in2b/internal/config"
	"epd4in2b/internal/epd"
)

type fakeBackend struct {
	status     Status
	black, red []byte
	refreshErr error
	refreshes  int
}

func (f *fakeBackend) Status() Status { return f.status }

func (f *fakeBackend) Frame() ([]byte, []byte, bool) {
	return f.black, f.red, f.black != nil
}

func (f *fakeBackend) Refresh(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func serve(t *testing.T, h http.Handler, method, path string, auth ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	b := &fakeBackend{status: Status{Panel: "epd.Dev{v2}", Revision: "v2", Asleep: true}}
	h := NewServer(config.DefaultConfig(), b).Handler()

	if rec := serve(t, h, http.MethodGet, "/health"); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}

	rec := serve(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("/api/status = %d", rec.Code)
	}
	var got Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Revision != "v2" || !got.Asleep {
		t.Errorf("status = %+v", got)
	}
}

func TestPreview(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(config.DefaultConfig(), b).Handler()

	if rec := serve(t, h, http.MethodGet, "/preview.png"); rec.Code != http.StatusNotFound {
		t.Errorf("preview before first frame = %d, want 404", rec.Code)
	}

	b.black = bytes.Repeat([]byte{0x00}, epd.BufferLen)
	b.red = bytes.Repeat([]byte{0xFF}, epd.BufferLen)
	rec := serve(t, h, http.MethodGet, "/preview.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d", rec.Code)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if img.Bounds().Dx() != epd.Width || img.Bounds().Dy() != epd.Height {
		t.Errorf("preview bounds = %v", img.Bounds())
	}
}

func TestRefresh(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(config.DefaultConfig(), b).Handler()

	if rec := serve(t, h, http.MethodGet, "/api/refresh"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh = %d, want 405", rec.Code)
	}
	if rec := serve(t, h, http.MethodPost, "/api/refresh"); rec.Code != http.StatusOK {
		t.Errorf("POST /api/refresh = %d", rec.Code)
	}
	b.refreshErr = errors.New("epd: busy timeout")
	if rec := serve(t, h, http.MethodPost, "/api/refresh"); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing refresh = %d, want 500", rec.Code)
	}
	if b.refreshes != 2 {
		t.Errorf("refreshes = %d, want 2", b.refreshes)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := NewServer(cfg, &fakeBackend{}).Handler()

	if rec := serve(t, h, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health must stay public, got %d", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/api/status"); rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials = %d, want 401", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/api/status", "admin", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/api/status", "admin", "secret"); rec.Code != http.StatusOK {
		t.Errorf("good credentials = %d, want 200", rec.Code)
	}
}
