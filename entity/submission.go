package entity

import (
	"time"
)

// Kind selects which question sequence an intake follows.
type Kind string

const (
	KindCompetition Kind = "competition"
	KindAchievement Kind = "achievement"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusCollecting  Status = "collecting"
	StatusConfirming  Status = "confirming"
	StatusSending     Status = "sending"
	StatusPendingSend Status = "pending_send"
	StatusSent        Status = "sent"
	StatusFailed      Status = "failed"
)

// FailReason explains why a submission ended up failed.
type FailReason string

const (
	FailCancelledByUser   FailReason = "cancelled_by_user"
	FailRestartByUser     FailReason = "restart_by_user"
	FailDeliveryError     FailReason = "delivery_error"
	FailAttemptsExhausted FailReason = "attempts_exhausted"
)

// Step is the dialogue position, derived from which answers are filled in.
type Step string

const (
	StepDate            Step = "await_date"
	StepEventType       Step = "await_event_type"
	StepCustomEventType Step = "await_custom_event_type"
	StepDiscipline      Step = "await_discipline"
	StepCategory        Step = "await_category"
	StepStage           Step = "await_stage"
	StepPhase           Step = "await_phase"
	StepBody            Step = "await_body"
	StepPhotos          Step = "await_photos"
)

// SkipValue marks an optional answer the user explicitly skipped. It is
// distinct from an unanswered field (nil pointer) and is omitted by the
// delivery formatter.
const SkipValue = "-"

// EventTypeOther is the "my event is not listed" choice. Selecting it
// requires a non-empty CustomEventType before the dialogue may advance.
const EventTypeOther = "other"

// BodyMaxLen caps the free-text achievement description, in runes.
const BodyMaxLen = 700

// Photo is one collected image: the platform file reference plus the key
// used to reject duplicates. UniqueId falls back to FileId when the
// platform supplies no stable identifier.
type Photo struct {
	FileId   string `json:"file_id" bson:"file_id"`
	UniqueId string `json:"unique_id" bson:"unique_id"`
}

// Submission is one user's in-progress or completed intake flow.
// Answer fields are pointers: nil means "not asked yet", which is what the
// step derivation runs on. There is no separately tracked step field.
type Submission struct {
	Id     string `json:"id" bson:"_id"`
	UserId int64  `json:"user_id" bson:"user_id"`
	ChatId int64  `json:"chat_id" bson:"chat_id"`
	Kind   Kind   `json:"kind" bson:"kind"`

	Date            *string `json:"date,omitempty" bson:"date,omitempty"`
	EventType       *string `json:"event_type,omitempty" bson:"event_type,omitempty"`
	CustomEventType *string `json:"custom_event_type,omitempty" bson:"custom_event_type,omitempty"`
	Discipline      *string `json:"discipline,omitempty" bson:"discipline,omitempty"`
	Category        *string `json:"category,omitempty" bson:"category,omitempty"`
	Stage           *string `json:"stage,omitempty" bson:"stage,omitempty"`
	Phase           *string `json:"phase,omitempty" bson:"phase,omitempty"`
	Body            *string `json:"body,omitempty" bson:"body,omitempty"`

	Photos []Photo `json:"photos" bson:"photos"`

	Status     Status     `json:"status" bson:"status"`
	FailReason FailReason `json:"fail_reason,omitempty" bson:"fail_reason,omitempty"`

	Attempts    int        `json:"attempts" bson:"attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty" bson:"next_retry_at"`
	LastError   string     `json:"last_error,omitempty" bson:"last_error,omitempty"`

	// Id of the last "photos received: N" prompt, so repeated prompts can
	// be edited in place. Best effort: a stale id falls back to a new send.
	PromptMessageId int64 `json:"prompt_message_id,omitempty" bson:"prompt_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Step derives the current dialogue position from the populated answers.
// Reloading a submission from the store and recomputing yields the same
// step, which is what makes resume-after-restart work.
func (s *Submission) Step() Step {
	if s.Kind == KindAchievement {
		if s.Body == nil {
			return StepBody
		}
		return StepPhotos
	}

	switch {
	case s.Date == nil:
		return StepDate
	case s.EventType == nil:
		return StepEventType
	case *s.EventType == EventTypeOther && s.CustomEventType == nil:
		return StepCustomEventType
	case s.Discipline == nil:
		return StepDiscipline
	case s.Category == nil:
		return StepCategory
	case s.Stage == nil:
		return StepStage
	case s.Phase == nil:
		return StepPhase
	}
	return StepPhotos
}

// Active reports whether the submission still owns the user's dialogue.
// A delivery failure keeps the submission active so the user can retry;
// cancelled or restarted ones do not.
func (s *Submission) Active() bool {
	switch s.Status {
	case StatusCollecting, StatusConfirming, StatusSending, StatusPendingSend:
		return true
	case StatusFailed:
		return s.FailReason == FailDeliveryError || s.FailReason == FailAttemptsExhausted
	}
	return false
}

// ResolvedEventType returns the type to show downstream, substituting the
// custom text when the user picked the "other" choice.
func (s *Submission) ResolvedEventType() string {
	if s.EventType == nil {
		return ""
	}
	if *s.EventType == EventTypeOther && s.CustomEventType != nil {
		return *s.CustomEventType
	}
	return *s.EventType
}
