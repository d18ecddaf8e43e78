package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SportRelay/bot/dialog"
	"SportRelay/bot/gateway"
	"SportRelay/entity"
)

const targetChat = int64(-100500)

type markCall struct {
	id      string
	reason  entity.FailReason
	seconds int
}

type fakeStore struct {
	pending []entity.Submission
	sent    []string
	failed  []markCall
	retried []markCall
}

func (s *fakeStore) ClaimPending(_ context.Context, limit int) ([]entity.Submission, error) {
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	claimed := s.pending[:limit]
	s.pending = s.pending[limit:]
	for i := range claimed {
		claimed[i].Status = entity.StatusSending
	}
	return claimed, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id string) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id string, reason entity.FailReason, _ string) error {
	s.failed = append(s.failed, markCall{id: id, reason: reason})
	return nil
}

func (s *fakeStore) MarkRetryAfter(_ context.Context, id string, seconds int, _ string) error {
	s.retried = append(s.retried, markCall{id: id, seconds: seconds})
	return nil
}

type fakeSender struct {
	texts    []sentText
	batches  []sentBatch
	keyboard []int64

	textErr  error
	batchErr error
}

type sentText struct {
	chatId int64
	text   string
}

type sentBatch struct {
	chatId  int64
	fileIds []string
}

func (f *fakeSender) SendText(chatId int64, text string) (int64, error) {
	if f.textErr != nil && chatId == targetChat {
		return 0, f.textErr
	}
	f.texts = append(f.texts, sentText{chatId: chatId, text: text})
	return int64(len(f.texts)), nil
}

func (f *fakeSender) SendTextKeyboard(chatId int64, _ string, _ [][]dialog.Button) (int64, error) {
	f.keyboard = append(f.keyboard, chatId)
	return 1, nil
}

func (f *fakeSender) SendPhotoBatch(chatId int64, fileIds []string) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, sentBatch{chatId: chatId, fileIds: fileIds})
	return nil
}

func newTestPipeline(store *fakeStore, sender *fakeSender, maxAttempts int) *Pipeline {
	p := NewPipeline(store, sender, targetChat, 5, maxAttempts,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.chunkDelay = func() time.Duration { return 0 }
	return p
}

func str(s string) *string { return &s }

func photos(n int) []entity.Photo {
	out := make([]entity.Photo, n)
	for i := range out {
		out[i] = entity.Photo{FileId: fmt.Sprintf("f%d", i), UniqueId: fmt.Sprintf("u%d", i)}
	}
	return out
}

func TestPipeline_DeliverSuccess(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	p := newTestPipeline(store, sender, 10)

	sub := &entity.Submission{
		Id:     "sub-1",
		ChatId: 42,
		Kind:   entity.KindCompetition,
		Date:   str("01.09.25"), EventType: str("Festival"),
		Discipline: str(entity.SkipValue), Category: str("Men"),
		Stage: str("Regional"), Phase: str("Final"),
		Photos:   photos(2),
		Status:   entity.StatusSending,
		Attempts: 2,
	}

	require.NoError(t, p.Deliver(context.Background(), sub))

	require.Equal(t, []string{"sub-1"}, store.sent)
	require.Equal(t, entity.StatusSent, sub.Status)
	require.Zero(t, sub.Attempts) // success clears the retry bookkeeping

	// Header to the target chat, then one batch, then the user notice.
	require.Len(t, sender.texts, 2)
	require.Equal(t, targetChat, sender.texts[0].chatId)
	require.Contains(t, sender.texts[0].text, "[01.09.25]")
	require.Equal(t, int64(42), sender.texts[1].chatId)

	require.Len(t, sender.batches, 1)
	require.Equal(t, []string{"f0", "f1"}, sender.batches[0].fileIds)
}

func TestPipeline_DeliverChunksInOrder(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	p := newTestPipeline(store, sender, 10)

	sub := &entity.Submission{
		Id: "sub-2", ChatId: 42,
		Kind: entity.KindAchievement, Body: str("season highlights"),
		Photos: photos(25),
		Status: entity.StatusSending,
	}

	require.NoError(t, p.Deliver(context.Background(), sub))

	require.Len(t, sender.batches, 3)
	require.Len(t, sender.batches[0].fileIds, 10)
	require.Len(t, sender.batches[1].fileIds, 10)
	require.Len(t, sender.batches[2].fileIds, 5)
	require.Equal(t, "f0", sender.batches[0].fileIds[0])
	require.Equal(t, "f10", sender.batches[1].fileIds[0])
	require.Equal(t, "f24", sender.batches[2].fileIds[4])
}

func TestPipeline_DeliverFailureMarksFailed(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{textErr: errors.New("chat not found")}
	p := newTestPipeline(store, sender, 10)

	sub := &entity.Submission{
		Id: "sub-3", ChatId: 42,
		Kind: entity.KindAchievement, Body: str("text"),
		Photos: photos(1),
		Status: entity.StatusSending,
	}

	require.NoError(t, p.Deliver(context.Background(), sub))

	require.Len(t, store.failed, 1)
	require.Equal(t, entity.FailDeliveryError, store.failed[0].reason)
	require.Equal(t, entity.StatusFailed, sub.Status)

	// Retry keyboard went to the user's chat.
	require.Equal(t, []int64{42}, sender.keyboard)
}

func TestPipeline_SweepRateLimitedReschedules(t *testing.T) {
	store := &fakeStore{
		pending: []entity.Submission{{
			Id: "sub-4", ChatId: 42,
			Kind: entity.KindAchievement, Body: str("text"),
			Photos: photos(1),
			Status: entity.StatusPendingSend,
		}},
	}
	sender := &fakeSender{batchErr: &gateway.RateLimitError{RetryAfter: 30 * time.Second}}
	p := newTestPipeline(store, sender, 10)

	summary := p.Sweep(context.Background(), 0)

	require.Equal(t, 1, summary.Processed)
	require.Len(t, summary.Errors, 1)

	require.Len(t, store.retried, 1)
	require.Equal(t, "sub-4", store.retried[0].id)
	require.Equal(t, 30, store.retried[0].seconds)
	require.Empty(t, store.failed)
	require.Empty(t, sender.keyboard) // no user-facing failure yet
}

func TestPipeline_SweepRateLimitedAtCapExhausts(t *testing.T) {
	store := &fakeStore{
		pending: []entity.Submission{{
			Id: "sub-5", ChatId: 42,
			Kind: entity.KindAchievement, Body: str("text"),
			Photos:   photos(1),
			Status:   entity.StatusPendingSend,
			Attempts: 9,
		}},
	}
	sender := &fakeSender{batchErr: &gateway.RateLimitError{RetryAfter: 5 * time.Second}}
	p := newTestPipeline(store, sender, 10)

	p.Sweep(context.Background(), 0)

	require.Empty(t, store.retried)
	require.Len(t, store.failed, 1)
	require.Equal(t, entity.FailAttemptsExhausted, store.failed[0].reason)
	require.Equal(t, []int64{42}, sender.keyboard)
}

func TestPipeline_SweepSuccess(t *testing.T) {
	store := &fakeStore{
		pending: []entity.Submission{
			{Id: "sub-6", ChatId: 41, Kind: entity.KindAchievement, Body: str("a"), Photos: photos(1), Status: entity.StatusPendingSend},
			{Id: "sub-7", ChatId: 42, Kind: entity.KindAchievement, Body: str("b"), Photos: photos(1), Status: entity.StatusPendingSend},
		},
	}
	sender := &fakeSender{}
	p := newTestPipeline(store, sender, 10)

	summary := p.Sweep(context.Background(), 0)

	require.Equal(t, 2, summary.Processed)
	require.Empty(t, summary.Errors)
	require.Equal(t, []string{"sub-6", "sub-7"}, store.sent)
}

func TestPipeline_SweepBatchOverride(t *testing.T) {
	store := &fakeStore{
		pending: []entity.Submission{
			{Id: "sub-8", ChatId: 41, Kind: entity.KindAchievement, Body: str("a"), Photos: photos(1), Status: entity.StatusPendingSend},
			{Id: "sub-9", ChatId: 42, Kind: entity.KindAchievement, Body: str("b"), Photos: photos(1), Status: entity.StatusPendingSend},
		},
	}
	sender := &fakeSender{}
	p := newTestPipeline(store, sender, 10)

	summary := p.Sweep(context.Background(), 1)

	require.Equal(t, 1, summary.Processed)
	require.Len(t, store.pending, 1)
}

func TestPipeline_MinimumRetryDelay(t *testing.T) {
	store := &fakeStore{
		pending: []entity.Submission{{
			Id: "sub-10", ChatId: 42,
			Kind: entity.KindAchievement, Body: str("text"),
			Photos: photos(1),
			Status: entity.StatusPendingSend,
		}},
	}
	sender := &fakeSender{batchErr: &gateway.RateLimitError{RetryAfter: 200 * time.Millisecond}}
	p := newTestPipeline(store, sender, 10)

	p.Sweep(context.Background(), 0)

	require.Len(t, store.retried, 1)
	require.Equal(t, 1, store.retried[0].seconds)
}
