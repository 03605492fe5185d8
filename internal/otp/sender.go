package otp

import (
	"context"
	"log/slog"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/validation"
)

// LogSender writes messages to the log instead of an SMS gateway. For
// development only: the code ends up in the log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that logs at Info.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.Info("sms (not delivered)", "phone", validation.MaskPhone(phone), "message", message)
	return nil
}
