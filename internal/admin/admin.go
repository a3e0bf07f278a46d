// Package admin provides runtime inspection and manual breaker control over
// HTTP. All endpoints are protected by IP allowlist; mutating endpoints are
// additionally guarded by the auth middleware when enabled.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/okrause/depshield/internal/apierror"
	"github.com/okrause/depshield/internal/breaker"
	"github.com/okrause/depshield/internal/config"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	registry    *breaker.Registry
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(reloader ConfigProvider, registry *breaker.Registry, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		registry:    registry,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/breakers", h.guard(http.MethodGet, h.breakersHandler))
	mux.HandleFunc("/admin/breakers/reset", h.guard(http.MethodPost, h.resetHandler))
	mux.HandleFunc("/admin/breakers/", h.guard(http.MethodPost, h.breakerActionHandler))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
}

// Mutating reports whether the request targets a state-changing admin
// endpoint. Used by the auth middleware to decide which requests need a
// valid token.
func Mutating(r *http.Request) bool {
	return r.Method != http.MethodGet && strings.HasPrefix(r.URL.Path, "/admin/")
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
				"method not allowed, use "+method)
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.Forbidden,
				"client address not in allowlist")
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	snaps := h.registry.Snapshots()
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": snaps})
}

// breakerActionHandler serves /admin/breakers/{name}/open and
// /admin/breakers/{name}/close.
func (h *Handler) breakerActionHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/breakers/")
	name, action, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound,
			"expected /admin/breakers/{name}/open or /admin/breakers/{name}/close")
		return
	}

	b, found := h.registry.Lookup(name)
	if !found {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.BreakerNotFound,
			"no circuit breaker named "+name)
		return
	}

	switch action {
	case "open":
		b.ForceOpen()
	case "close":
		b.ForceClose()
	default:
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound,
			"unknown action "+action+", expected open or close")
		return
	}

	h.logger.Info("manual breaker transition", "breaker", name, "action", action,
		"client_ip", extractIP(r.RemoteAddr))
	writeJSON(w, http.StatusOK, b.Snapshot())
}

func (h *Handler) resetHandler(w http.ResponseWriter, r *http.Request) {
	h.registry.ResetAll()
	h.logger.Info("all breakers reset", "client_ip", extractIP(r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": h.registry.Snapshots()})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
