package goIdentity

import "testing"

func TestSecurityReportReflectsPosture(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.ResetToken.Storage = ResetStorageRedis
		cfg.Identity.AllowedDomains = []string{"example.com"}
	})

	report := h.engine.SecurityReport()
	if report.ResetStorage != "redis" || report.ResetDelivery != "sync" {
		t.Fatalf("unexpected reset posture: %+v", report)
	}
	if !report.IdentityEnabled || report.IdentityRemoteKeys {
		t.Fatalf("expected identity with static keys: %+v", report)
	}
	if !report.AutoProvision || !report.ProvisionDomainLimited {
		t.Fatalf("expected domain-limited provisioning: %+v", report)
	}
	if report.Argon2.Memory != 8*1024 {
		t.Fatalf("Argon2 memory = %d", report.Argon2.Memory)
	}
	// Test config disables padding.
	if report.ResetTimingPadded {
		t.Fatal("expected padding off in test config")
	}
	if len(report.Warnings()) == 0 {
		t.Fatal("expected a padding warning")
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *Engine
	if r := e.SecurityReport(); r.IdentityEnabled {
		t.Fatal("nil engine must report zero value")
	}
}
