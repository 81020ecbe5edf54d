package goIdentity

import "github.com/MrEthical07/goIdentity/internal/security"

// SecurityReport is a read-only snapshot of the engine's security posture,
// returned by [Engine.SecurityReport]. Report.Warnings lists settings an
// operator should review.
type SecurityReport = security.Report

// PasswordConfigReport contains the Argon2 parameters active in the engine.
type PasswordConfigReport = security.PasswordReport

// SecurityReport summarizes the effective configuration without secrets.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	storage := "credential_store"
	if c.ResetToken.Storage == ResetStorageRedis {
		storage = "redis"
	}
	delivery := "async"
	if c.ResetToken.Delivery == DeliverySync {
		delivery = "sync"
	}

	return security.BuildReport(security.ReportInput{
		Sliding:               c.Session.Sliding,
		IdleTimeout:           c.Session.IdleTimeout,
		AbsoluteLifetime:      c.Session.AbsoluteLifetime,
		ResetTTL:              c.ResetToken.TTL,
		ResetStorage:          storage,
		ResetDelivery:         delivery,
		MinResponseTime:       c.ResetToken.MinResponseTime,
		ResetRequestPerEmail:  c.RateLimit.ResetRequestPerEmail,
		ResetRequestPerIP:     c.RateLimit.ResetRequestPerIP,
		ResetRedeemPerIP:      c.RateLimit.ResetRedeemPerIP,
		MaxLoginAttempts:      c.RateLimit.MaxLoginAttempts,
		LoginCooldownDuration: c.RateLimit.LoginCooldown,
		Password: security.PasswordReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		UpgradeOnLogin:  c.Password.UpgradeOnLogin,
		IdentityEnabled: c.Identity.Enabled,
		JWKSURL:         c.Identity.JWKSURL,
		AutoProvision:   c.Identity.AutoProvision,
		AllowedDomains:  len(c.Identity.AllowedDomains),
		AuditEnabled:    c.Audit.Enabled,
	})
}
