// Package security derives a read-only security posture report from the
// effective engine configuration.
//
// # What this package must NOT do
//
//   - Import the root package or hold references to live components.
//   - Include secrets, keys or endpoints in a report.
package security
