package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// AdminNotifier delivers a plain text message to the admin chat.
type AdminNotifier interface {
	NotifyAdmin(text string)
}

// telegramHandler wraps another slog handler and forwards records at or
// above the threshold level to the admin chat. Sends are fire-and-forget:
// a failed notification never breaks logging.
type telegramHandler struct {
	inner    slog.Handler
	notifier AdminNotifier
	level    slog.Level
	attrs    []slog.Attr
}

// SetupTelegramHandler returns a logger that mirrors error-level records to
// the admin chat on top of the existing handler chain.
func SetupTelegramHandler(log *slog.Logger, notifier AdminNotifier, level slog.Level) *slog.Logger {
	return slog.New(&telegramHandler{
		inner:    log.Handler(),
		notifier: notifier,
		level:    level,
	})
}

func (h *telegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *telegramHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.level && h.notifier != nil {
		text := fmt.Sprintf("⚠️ %s | %s", record.Level, record.Message)
		for _, attr := range h.attrs {
			text += fmt.Sprintf("\n%s: %s", attr.Key, attr.Value)
		}
		record.Attrs(func(attr slog.Attr) bool {
			text += fmt.Sprintf("\n%s: %s", attr.Key, attr.Value)
			return true
		})
		go h.notifier.NotifyAdmin(text)
	}
	return h.inner.Handle(ctx, record)
}

func (h *telegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &telegramHandler{
		inner:    h.inner.WithAttrs(attrs),
		notifier: h.notifier,
		level:    h.level,
		attrs:    merged,
	}
}

func (h *telegramHandler) WithGroup(name string) slog.Handler {
	return &telegramHandler{
		inner:    h.inner.WithGroup(name),
		notifier: h.notifier,
		level:    h.level,
		attrs:    h.attrs,
	}
}
