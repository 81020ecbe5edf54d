package mail

import (
	"context"
	"log/slog"
	"sort"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// LogMailer logs recipients and template fields without their values.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer returns a LogMailer writing to logger, or slog.Default when
// logger is nil.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg goIdentity.MailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "reset mail",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.Any("fields", fieldNames(msg.Data)),
	)
	return nil
}

func fieldNames(data map[string]string) []string {
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
