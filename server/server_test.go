package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/autoflow/component"
	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, "test", &buf)
	s := New(cfg, log)
	gin.SetMode(gin.TestMode)
	return s, &buf
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestRespondWithError(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	s.Engine().GET("/missing", func(c *gin.Context) { RespondWithError(c, afErrors.NotFound("schedule", "x")) })
	s.Engine().GET("/plain", func(c *gin.Context) { RespondWithError(c, errors.New("disk on fire")) })

	w := serve(s, http.MethodGet, "/missing", "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"NOT_FOUND"`) {
		t.Errorf("missing = %d %s", w.Code, w.Body.String())
	}
	w = serve(s, http.MethodGet, "/plain", "")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), `"code":"INTERNAL_ERROR"`) {
		t.Errorf("plain = %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "disk on fire") {
		t.Error("internal cause leaked to client")
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	s, buf := newTestServer(t, Config{})
	s.Engine().GET("/boom", func(*gin.Context) { panic("kaput") })

	w := serve(s, http.MethodGet, "/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestBodySizeLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{MaxBodyBytes: 8})
	s.Engine().POST("/echo", func(c *gin.Context) {
		var v map[string]any
		if err := c.ShouldBindJSON(&v); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})
	if w := serve(s, http.MethodPost, "/echo", `{"a":"this is long"}`); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		states []component.HealthStatus
		want   component.HealthStatus
		code   int
	}{
		{"all healthy", []component.HealthStatus{component.StatusHealthy}, component.StatusHealthy, http.StatusOK},
		{"degraded", []component.HealthStatus{component.StatusHealthy, component.StatusDegraded}, component.StatusDegraded, http.StatusOK},
		{"unhealthy wins", []component.HealthStatus{component.StatusDegraded, component.StatusUnhealthy}, component.StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, Config{})
			s.Engine().GET("/health", Health("svc", func(context.Context) []component.Health {
				out := make([]component.Health, len(tt.states))
				for i, st := range tt.states {
					out[i] = component.Health{Name: "c", Status: st}
				}
				return out
			}))
			w := serve(s, http.MethodGet, "/health", "")
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			var body struct {
				Status component.HealthStatus `json:"status"`
			}
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body.Status != tt.want {
				t.Errorf("status = %s, want %s", body.Status, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t, Config{Host: "127.0.0.1", Port: 0})
	s.httpServer.Addr = "127.0.0.1:0"
	s.Engine().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	if h := s.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("health before start = %+v", h)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + s.Addr() + "/ping")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Port: 70000}
	if err := cfg.Validate(); err == nil {
		t.Error("expected port error")
	}
	cfg = Config{}
	cfg.ApplyDefaults()
	if cfg.Port != 8080 || cfg.MaxBodyBytes == 0 {
		t.Errorf("defaults = %+v", cfg)
	}
}
