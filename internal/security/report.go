package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	SessionSliding          bool
	SessionIdleTimeout      time.Duration
	SessionAbsoluteLifetime time.Duration
	ResetTokenTTL           time.Duration
	ResetStorage            string
	ResetDelivery           string
	ResetTimingPadded       bool
	ResetThrottleActive     bool
	LoginThrottleActive     bool
	Argon2                  PasswordReport
	HashUpgradeOnLogin      bool
	IdentityEnabled         bool
	IdentityRemoteKeys      bool
	AutoProvision           bool
	ProvisionDomainLimited  bool
	AuditEnabled            bool
}

type ReportInput struct {
	Sliding               bool
	IdleTimeout           time.Duration
	AbsoluteLifetime      time.Duration
	ResetTTL              time.Duration
	ResetStorage          string
	ResetDelivery         string
	MinResponseTime       time.Duration
	ResetRequestPerEmail  int
	ResetRequestPerIP     int
	ResetRedeemPerIP      int
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	Password              PasswordReport
	UpgradeOnLogin        bool
	IdentityEnabled       bool
	JWKSURL               string
	AutoProvision         bool
	AllowedDomains        int
	AuditEnabled          bool
}

func BuildReport(input ReportInput) Report {
	resetThrottle := input.ResetRequestPerEmail > 0 ||
		input.ResetRequestPerIP > 0 ||
		input.ResetRedeemPerIP > 0

	loginThrottle := input.MaxLoginAttempts > 0 &&
		input.LoginCooldownDuration > 0

	return Report{
		SessionSliding:          input.Sliding,
		SessionIdleTimeout:      input.IdleTimeout,
		SessionAbsoluteLifetime: input.AbsoluteLifetime,
		ResetTokenTTL:           input.ResetTTL,
		ResetStorage:            input.ResetStorage,
		ResetDelivery:           input.ResetDelivery,
		ResetTimingPadded:       input.MinResponseTime > 0,
		ResetThrottleActive:     resetThrottle,
		LoginThrottleActive:     loginThrottle,
		Argon2:                  input.Password,
		HashUpgradeOnLogin:      input.UpgradeOnLogin,
		IdentityEnabled:         input.IdentityEnabled,
		IdentityRemoteKeys:      input.IdentityEnabled && input.JWKSURL != "",
		AutoProvision:           input.IdentityEnabled && input.AutoProvision,
		ProvisionDomainLimited:  input.AllowedDomains > 0,
		AuditEnabled:            input.AuditEnabled,
	}
}

// Warnings lists posture choices an operator should review. An empty
// result means nothing stood out.
func (r Report) Warnings() []string {
	var out []string
	if !r.ResetTimingPadded {
		out = append(out, "reset requests are not padded; response time may reveal registered emails")
	}
	if !r.ResetThrottleActive {
		out = append(out, "reset request throttling is disabled")
	}
	if !r.LoginThrottleActive {
		out = append(out, "password login throttling is disabled")
	}
	if r.AutoProvision && !r.ProvisionDomainLimited {
		out = append(out, "auto-provisioning accepts any email domain")
	}
	if r.ResetDelivery == "sync" && r.ResetTimingPadded {
		out = append(out, "synchronous delivery can exceed the reset padding window")
	}
	return out
}
