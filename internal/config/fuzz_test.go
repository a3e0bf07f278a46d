package config

import "testing"

func FuzzLoadFromBytes(f *testing.F) {
	// Seed corpus: valid configs
	f.Add([]byte(`
dependencies:
  - name: database
    address: "localhost:5432"
`))
	f.Add([]byte(`
server:
  port: 9090
auth:
  enabled: true
  jwt_secret: "secret"
  issuer: "iss"
  audience: "aud"
admin:
  enabled: true
  ip_allowlist: ["127.0.0.1/32"]
breaker_defaults:
  failure_threshold: 0.4
dependencies:
  - name: ai-service
    address: "ollama:11434"
    probe_interval_ms: 5000
`))

	// Edge cases
	f.Add([]byte(``))
	f.Add([]byte(`dependencies: []`))
	f.Add([]byte(`server: { port: 0 }`))
	f.Add([]byte(`breaker_defaults: { failure_threshold: 2 }`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// LoadFromBytes must never panic regardless of input.
		cfg, err := LoadFromBytes(data)
		if err != nil {
			return
		}
		// If parsing succeeded, verify invariants that validation should enforce.
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			t.Errorf("invalid port escaped validation: %d", cfg.Server.Port)
		}
		if cfg.BreakerDefaults.FailureThreshold <= 0 || cfg.BreakerDefaults.FailureThreshold > 1 {
			t.Errorf("invalid failure threshold escaped validation: %f", cfg.BreakerDefaults.FailureThreshold)
		}
		if cfg.BreakerDefaults.HalfOpenRequests < 1 {
			t.Errorf("invalid half-open requests escaped validation: %d", cfg.BreakerDefaults.HalfOpenRequests)
		}
	})
}
