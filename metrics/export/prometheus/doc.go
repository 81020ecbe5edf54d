// Package prometheus renders goIdentity engine metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goIdentity.Engine] and exposes an [http.Handler].
// Related counters render as one family with a label, for example
// goidentity_reset_redeem_rejected_total{reason="expired"} and
// goidentity_reset_mail_total{delivery="dropped"}. The single histogram is
// goidentity_session_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
