package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"SportRelay/bot/dialog"
	"SportRelay/bot/gateway"
	"SportRelay/entity"
	"SportRelay/internal/lib/sl"
)

// Store is the submission bookkeeping the pipeline records outcomes on.
type Store interface {
	ClaimPending(ctx context.Context, limit int) ([]entity.Submission, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason entity.FailReason, errText string) error
	MarkRetryAfter(ctx context.Context, id string, seconds int, errText string) error
}

// Sender is the outbound surface the pipeline transmits through.
type Sender interface {
	SendText(chatId int64, text string) (int64, error)
	SendTextKeyboard(chatId int64, text string, rows [][]dialog.Button) (int64, error)
	SendPhotoBatch(chatId int64, fileIds []string) error
}

// Monitor receives submission lifecycle events. May be nil.
type Monitor interface {
	BroadcastSubmission(event string, sub *entity.Submission)
}

// Summary is what one worker sweep reports back. The worker handler owns
// the wire shape; a raw time.Duration would marshal as nanoseconds.
type Summary struct {
	Processed int
	Errors    []string
	Duration  time.Duration
}

// Pipeline formats a finalized submission into a header plus photo batches
// of at most ten items, transmits them strictly in order to the target
// chat, and records the outcome.
type Pipeline struct {
	store        Store
	sender       Sender
	monitor      Monitor
	log          *slog.Logger
	targetChatId int64
	batchSize    int
	maxAttempts  int

	// pause between photo chunks; replaced in tests
	chunkDelay func() time.Duration
}

func NewPipeline(store Store, sender Sender, targetChatId int64, batchSize, maxAttempts int, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:        store,
		sender:       sender,
		log:          log.With(sl.Module("delivery")),
		targetChatId: targetChatId,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		chunkDelay: func() time.Duration {
			return 500*time.Millisecond + time.Duration(rand.Intn(1000))*time.Millisecond
		},
	}
}

// SetMonitor wires the optional admin event hub.
func (p *Pipeline) SetMonitor(m Monitor) {
	p.monitor = m
}

// Deliver is the inline (webhook) path: transmit now, and on any failure
// mark the submission failed so the user gets an immediate retry
// affordance instead of a silent background reschedule.
func (p *Pipeline) Deliver(ctx context.Context, sub *entity.Submission) error {
	err := p.transmit(ctx, sub)
	if err == nil {
		return p.recordSent(ctx, sub)
	}

	p.log.With(
		slog.String("submission", sub.Id),
		sl.Err(err),
	).Warn("inline delivery failed")

	if markErr := p.store.MarkFailed(ctx, sub.Id, entity.FailDeliveryError, err.Error()); markErr != nil {
		return fmt.Errorf("recording delivery failure: %w", markErr)
	}
	sub.Status = entity.StatusFailed
	sub.FailReason = entity.FailDeliveryError

	p.broadcast("submission_failed", sub)
	return p.notifyFailure(sub)
}

// Sweep is the worker path: claim due pending submissions oldest first and
// transmit each. Rate-limited sends are rescheduled with the platform's
// wait hint until the attempt cap is reached; other failures are terminal.
func (p *Pipeline) Sweep(ctx context.Context, batchOverride int) Summary {
	start := time.Now()

	limit := p.batchSize
	if batchOverride > 0 {
		limit = batchOverride
	}

	summary := Summary{Errors: []string{}}

	claimed, err := p.store.ClaimPending(ctx, limit)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
		summary.Duration = time.Since(start)
		return summary
	}

	for i := range claimed {
		sub := &claimed[i]
		summary.Processed++
		if err := p.deliverClaimed(ctx, sub); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", sub.Id, err))
		}
	}

	summary.Duration = time.Since(start)
	p.log.With(
		slog.Int("processed", summary.Processed),
		slog.Int("errors", len(summary.Errors)),
		slog.Duration("duration", summary.Duration),
	).Info("sweep finished")

	return summary
}

func (p *Pipeline) deliverClaimed(ctx context.Context, sub *entity.Submission) error {
	err := p.transmit(ctx, sub)
	if err == nil {
		return p.recordSent(ctx, sub)
	}

	var rl *gateway.RateLimitError
	if errors.As(err, &rl) && sub.Attempts+1 < p.maxAttempts {
		seconds := int(rl.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		if markErr := p.store.MarkRetryAfter(ctx, sub.Id, seconds, err.Error()); markErr != nil {
			return fmt.Errorf("rescheduling: %w", markErr)
		}
		p.log.With(
			slog.String("submission", sub.Id),
			slog.Int("retry_after_s", seconds),
			slog.Int("attempts", sub.Attempts+1),
		).Info("delivery rate limited, rescheduled")
		return err
	}

	reason := entity.FailDeliveryError
	if errors.As(err, &rl) {
		reason = entity.FailAttemptsExhausted
	}
	if markErr := p.store.MarkFailed(ctx, sub.Id, reason, err.Error()); markErr != nil {
		return fmt.Errorf("recording delivery failure: %w", markErr)
	}
	sub.Status = entity.StatusFailed
	sub.FailReason = reason

	p.broadcast("submission_failed", sub)
	if notifyErr := p.notifyFailure(sub); notifyErr != nil {
		p.log.With(sl.Err(notifyErr)).Warn("notifying user about failure")
	}
	return err
}

// transmit sends the header and then the photo chunks, strictly one after
// another so the destination keeps the original order.
func (p *Pipeline) transmit(ctx context.Context, sub *entity.Submission) error {
	if _, err := p.sender.SendText(p.targetChatId, Format(sub)); err != nil {
		return fmt.Errorf("sending header: %w", err)
	}

	for i, chunk := range ChunkFileIds(sub.Photos, gateway.BatchLimit) {
		if i > 0 {
			select {
			case <-time.After(p.chunkDelay()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.sender.SendPhotoBatch(p.targetChatId, chunk); err != nil {
			return fmt.Errorf("sending photo batch %d: %w", i+1, err)
		}
	}

	return nil
}

func (p *Pipeline) recordSent(ctx context.Context, sub *entity.Submission) error {
	if err := p.store.MarkSent(ctx, sub.Id); err != nil {
		return fmt.Errorf("recording success: %w", err)
	}
	sub.Status = entity.StatusSent
	sub.FailReason = ""
	sub.LastError = ""
	sub.Attempts = 0

	p.broadcast("submission_sent", sub)

	if _, err := p.sender.SendText(sub.ChatId,
		"✅ Your report has been posted to the club channel. Press /start to report more."); err != nil {
		p.log.With(sl.Err(err)).Warn("notifying user about success")
	}
	return nil
}

func (p *Pipeline) notifyFailure(sub *entity.Submission) error {
	_, err := p.sender.SendTextKeyboard(sub.ChatId,
		"⚠️ The report couldn't be delivered. Retry, or cancel it.",
		[][]dialog.Button{
			{{Text: "🔁 Retry send", Data: "fail:retry"}},
			{{Text: "❌ Cancel", Data: "fail:cancel"}},
		})
	return err
}

func (p *Pipeline) broadcast(event string, sub *entity.Submission) {
	if p.monitor != nil {
		p.monitor.BroadcastSubmission(event, sub)
	}
}
