package main

import (
	"context"
	"log/slog"

	"github.com/xraph/timeli/notification"
)

// logSender writes notifications to the log instead of delivering them.
// Deployments replace it with their mail and text providers.
type logSender struct {
	logger *slog.Logger
}

func (s logSender) SendEmail(ctx context.Context, m notification.Message) error {
	s.log(ctx, "email", m)
	return nil
}

func (s logSender) SendText(ctx context.Context, m notification.Message) error {
	s.log(ctx, "text", m)
	return nil
}

func (s logSender) log(ctx context.Context, channel string, m notification.Message) {
	s.logger.InfoContext(ctx, "notification delivered",
		slog.String("channel", channel),
		slog.String("tenant_id", m.TenantID),
		slog.String("rule_id", m.RuleID),
		slog.String("appointment_id", m.AppointmentID),
		slog.String("template_id", m.TemplateID),
		slog.String("subject", m.Subject),
	)
}
