// Package delivery runs outbound side effects, reset mail in practice, on a
// bounded worker pool so that request latency never depends on the mail
// transport.
//
// Jobs run with their own timeout on a context that is not derived from the
// enqueuing request. A full queue is reported to the caller immediately.
package delivery
