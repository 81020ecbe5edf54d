package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// Series is one labelled value of a counter family.
type Series struct {
	ID    goIdentity.MetricID
	Value string
}

// FamilyDef groups engine counters under one exported name. An empty Label
// means the family has a single unlabelled series.
type FamilyDef struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// FamilyDefs lists every exported counter family in render order.
var FamilyDefs = []FamilyDef{
	{
		Name: "goidentity_assertion_login_total", Help: "Identity assertion logins by outcome.", Label: "outcome",
		Series: []Series{
			{ID: goIdentity.MetricAssertionLoginSuccess, Value: "success"},
			{ID: goIdentity.MetricAssertionLoginFailure, Value: "failure"},
		},
	},
	{
		Name: "goidentity_password_login_total", Help: "Local password logins by outcome.", Label: "outcome",
		Series: []Series{
			{ID: goIdentity.MetricPasswordLoginSuccess, Value: "success"},
			{ID: goIdentity.MetricPasswordLoginFailure, Value: "failure"},
			{ID: goIdentity.MetricLoginRateLimited, Value: "rate_limited"},
		},
	},
	{
		Name: "goidentity_reset_redeem_total", Help: "Reset redemptions by outcome.", Label: "outcome",
		Series: []Series{
			{ID: goIdentity.MetricResetRedeemSuccess, Value: "success"},
			{ID: goIdentity.MetricResetRedeemFailure, Value: "failure"},
		},
	},
	{
		Name: "goidentity_reset_redeem_rejected_total", Help: "Reset tokens refused at redemption by reason.", Label: "reason",
		Series: []Series{
			{ID: goIdentity.MetricResetRedeemNotFound, Value: "not_found"},
			{ID: goIdentity.MetricResetRedeemExpired, Value: "expired"},
			{ID: goIdentity.MetricResetRedeemConsumed, Value: "consumed"},
			{ID: goIdentity.MetricResetRedeemMalformed, Value: "malformed"},
		},
	},
	{
		Name: "goidentity_reset_mail_total", Help: "Reset mails by delivery result.", Label: "delivery",
		Series: []Series{
			{ID: goIdentity.MetricMailDelivered, Value: "delivered"},
			{ID: goIdentity.MetricMailFailed, Value: "failed"},
			{ID: goIdentity.MetricMailDropped, Value: "dropped"},
		},
	},
	{
		Name: "goidentity_session_events_total", Help: "Session lifecycle events.", Label: "event",
		Series: []Series{
			{ID: goIdentity.MetricSessionCreated, Value: "created"},
			{ID: goIdentity.MetricSessionRejected, Value: "rejected"},
			{ID: goIdentity.MetricSessionDestroyed, Value: "destroyed"},
			{ID: goIdentity.MetricSessionDestroyAll, Value: "destroy_all"},
		},
	},
	{Name: "goidentity_user_provisioned_total", Help: "Users created on first federated login.", Series: []Series{{ID: goIdentity.MetricUserProvisioned}}},
	{Name: "goidentity_reset_request_total", Help: "Password reset requests.", Series: []Series{{ID: goIdentity.MetricResetRequest}}},
	{Name: "goidentity_reset_token_issued_total", Help: "Reset tokens persisted.", Series: []Series{{ID: goIdentity.MetricResetTokenIssued}}},
	{Name: "goidentity_reset_rate_limited_total", Help: "Reset requests and redemptions denied by the limiter.", Series: []Series{{ID: goIdentity.MetricResetRateLimited}}},
	{Name: "goidentity_admin_forced_reset_total", Help: "Admin-forced password resets.", Series: []Series{{ID: goIdentity.MetricAdminForcedReset}}},
	{Name: "goidentity_sweep_deleted_total", Help: "Expired reset-token rows removed by the sweeper.", Series: []Series{{ID: goIdentity.MetricSweepDeleted}}},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricValidateLatency, Name: "goidentity_session_validate_latency_seconds", Help: "Session validate latency histogram."},
}

// HistogramBounds are the upper bounds of the engine latency buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds in instrument-name-safe form.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw bucket counts to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
