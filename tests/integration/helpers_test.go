//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okrause/depshield/internal/admin"
	"github.com/okrause/depshield/internal/auth"
	"github.com/okrause/depshield/internal/breaker"
	"github.com/okrause/depshield/internal/config"
	"github.com/okrause/depshield/internal/health"
	"github.com/okrause/depshield/internal/middleware"
	"github.com/okrause/depshield/internal/ratelimit"
)

const (
	jwtSecret = "integration-test-secret-key-32chars!!"
	jwtIssuer = "https://auth.example.com"
	jwtAud    = "depshield-admin"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// stack is a fully assembled in-process service instance.
type stack struct {
	server   *httptest.Server
	registry *breaker.Registry
	limiter  *ratelimit.Limiter
}

func (s *stack) Close() {
	s.server.Close()
	s.limiter.Stop()
}

// mockConfigProvider stands in for the file-backed reloader.
type mockConfigProvider struct {
	cfg *config.Config
}

func (m *mockConfigProvider) Current() *config.Config { return m.cfg }

// newStack assembles registry, health, admin, and the full middleware chain
// the way the daemon does.
func newStack(t *testing.T) *stack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			Enabled:   true,
			JWTSecret: jwtSecret,
			Issuer:    jwtIssuer,
			Audience:  jwtAud,
		},
		Admin: config.AdminConfig{
			Enabled:     true,
			IPAllowlist: []string{"127.0.0.0/8", "192.0.2.0/24"},
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 500},
	}

	registry := breaker.NewRegistry(logger)
	registry.Get("database", breaker.WithMinimumRequests(2), breaker.WithFailureThreshold(0.5))
	registry.Get("cache")

	limiter := ratelimit.New(cfg.RateLimit, logger)

	mux := http.NewServeMux()
	health.New(registry).RegisterRoutes(mux)
	admin.New(&mockConfigProvider{cfg: cfg}, registry, cfg.Admin.IPAllowlist, logger).RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth, admin.Mutating, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	server := httptest.NewServer(handler)
	t.Cleanup(func() { server.Close(); limiter.Stop() })

	return &stack{server: server, registry: registry, limiter: limiter}
}

func generateJWT(sub string, expiry time.Duration) string {
	claims := jwt.MapClaims{
		"sub": sub,
		"iss": jwtIssuer,
		"aud": jwtAud,
		"exp": time.Now().Add(expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		panic(fmt.Sprintf("generateJWT: %v", err))
	}
	return s
}

func httpDo(method, url string, body io.Reader, headers map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp, data, err
}

func httpGet(url string, headers map[string]string) (*http.Response, []byte, error) {
	return httpDo("GET", url, nil, headers)
}

func httpPost(url string, headers map[string]string) (*http.Response, []byte, error) {
	return httpDo("POST", url, nil, headers)
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func parseJSON(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", string(data), err)
	}
	return m
}

func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, body []byte, expected string) {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("failed to parse error response: %v\nbody: %s", err, string(body))
	}
	code, ok := m["error_code"].(string)
	if !ok {
		t.Fatalf("error_code field missing or not a string in %s", string(body))
	}
	if code != expected {
		t.Errorf("expected error_code %q, got %q", expected, code)
	}
}

func assertHeaderPresent(t *testing.T, resp *http.Response, key string) {
	t.Helper()
	if resp.Header.Get(key) == "" {
		t.Errorf("expected header %s to be present", key)
	}
}

func assertBodyContains(t *testing.T, body []byte, substr string) {
	t.Helper()
	if !strings.Contains(string(body), substr) {
		t.Errorf("expected body to contain %q, got %q", substr, string(body))
	}
}
