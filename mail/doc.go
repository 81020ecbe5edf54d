// Package mail provides goIdentity.Mailer implementations.
//
// LogMailer writes a redacted line per message and suits development.
// AMQPMailer publishes each message as JSON to a RabbitMQ queue for an
// external mail worker to render and send.
//
// Message Data carries the reset link, so neither mailer logs it.
package mail
