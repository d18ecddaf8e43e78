package dialog

import (
	"context"

	"SportRelay/entity"
)

// Button is an inline keyboard button with its callback payload.
type Button struct {
	Text string
	Data string
}

// Sender is the outbound messaging surface the dialogue needs. Implemented
// by the Telegram gateway; tests substitute a recorder.
type Sender interface {
	// SendText returns the id of the sent message so prompts can later be
	// edited in place.
	SendText(chatId int64, text string) (int64, error)
	SendTextKeyboard(chatId int64, text string, rows [][]Button) (int64, error)
	EditTextKeyboard(chatId, messageId int64, text string, rows [][]Button) error
	AnswerCallback(callbackId, text string) error
}

// Store is the submission persistence the dialogue relies on.
type Store interface {
	FindActive(ctx context.Context, userId int64) (*entity.Submission, error)
	CreateSubmission(ctx context.Context, userId, chatId int64, kind entity.Kind) (*entity.Submission, error)
	SaveSubmission(ctx context.Context, sub *entity.Submission) error
	// UpdateStatus flips the lifecycle status (and fail reason) in place.
	// Status moves never go through SaveSubmission: a full replace would
	// overwrite photos appended since the submission was loaded.
	UpdateStatus(ctx context.Context, id string, status entity.Status, reason entity.FailReason) error
	// SetPromptMessage stores the id of the latest count prompt, and nothing
	// else, for the same reason.
	SetPromptMessage(ctx context.Context, id string, messageId int64) error
	// AppendPhoto adds a photo unless its dedup key is already present and
	// reports the resulting count, so the caller never re-reads the
	// submission to learn it.
	AppendPhoto(ctx context.Context, id, fileId, uniqueId string) (count int, added bool, err error)
}

// Deliverer transmits a confirmed submission to the target chat and records
// the outcome, including the user-facing success or retry messaging.
type Deliverer interface {
	Deliver(ctx context.Context, sub *entity.Submission) error
}

// Monitor receives submission lifecycle events for the admin dashboard.
// May be nil; every call site tolerates that.
type Monitor interface {
	BroadcastSubmission(event string, sub *entity.Submission)
}
