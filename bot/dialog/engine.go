package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"

	"SportRelay/entity"
	"SportRelay/internal/lib/sl"
)

const (
	menuText    = "🏆 What would you like to report?"
	idleHint    = "Press /start to begin a new report."
	busyText    = "⏳ Your report is being sent, hold on."
	photosFirst = "📷 Please send at least one photo before finishing."
)

// Engine is the per-user dialogue state machine. Every decision it makes is
// a function of the persisted submission and the inbound event; it holds no
// state of its own between calls.
type Engine struct {
	store     Store
	sender    Sender
	deliverer Deliverer
	monitor   Monitor
	log       *slog.Logger
}

func NewEngine(store Store, sender Sender, log *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		sender: sender,
		log:    log.With(sl.Module("dialog")),
	}
}

// SetDeliverer wires the delivery pipeline used on "send" confirmations.
func (e *Engine) SetDeliverer(d Deliverer) {
	e.deliverer = d
}

// SetMonitor wires the optional admin event hub.
func (e *Engine) SetMonitor(m Monitor) {
	e.monitor = m
}

// HandleText processes a plain text message from a private chat.
func (e *Engine) HandleText(ctx context.Context, userId, chatId int64, text string) error {
	text = strings.TrimSpace(text)

	switch text {
	case "/start":
		return e.restart(ctx, userId, chatId)
	case "/cancel":
		return e.cancel(ctx, userId, chatId)
	}

	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		return e.sendMenu(chatId)
	}

	switch sub.Status {
	case entity.StatusCollecting:
		return e.handleAnswer(ctx, sub, text)
	case entity.StatusConfirming:
		return e.promptConfirm(sub)
	case entity.StatusSending, entity.StatusPendingSend:
		_, err = e.sender.SendText(chatId, busyText)
		return err
	case entity.StatusFailed:
		return e.promptRetry(sub)
	}
	return nil
}

// HandlePhoto processes an incoming photo message. The variants of one
// photo arrive together; the largest reported size wins, later entry on a
// tie since Telegram lists variants in ascending size.
func (e *Engine) HandlePhoto(ctx context.Context, userId, chatId int64, sizes []tgbotapi.PhotoSize) error {
	if len(sizes) == 0 {
		return nil
	}
	fileId, uniqueId := LargestVariant(sizes)

	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		_, err = e.sender.SendText(chatId, idleHint)
		return err
	}

	switch {
	case sub.Status == entity.StatusFailed:
		// A photo after a delivery failure reopens collection.
		if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusCollecting, ""); err != nil {
			return fmt.Errorf("reopening submission: %w", err)
		}
		sub.Status = entity.StatusCollecting
		return e.appendPhoto(ctx, sub, fileId, uniqueId)

	case sub.Status == entity.StatusCollecting && sub.Step() == entity.StepPhotos:
		return e.appendPhoto(ctx, sub, fileId, uniqueId)

	case sub.Status == entity.StatusCollecting:
		if _, err := e.sender.SendText(chatId, "Let's finish the questions first."); err != nil {
			return err
		}
		return e.promptStep(ctx, sub)

	case sub.Status == entity.StatusConfirming:
		return e.promptConfirm(sub)
	}

	_, err = e.sender.SendText(chatId, busyText)
	return err
}

// HandleCallback processes an inline button press.
func (e *Engine) HandleCallback(ctx context.Context, userId, chatId int64, callbackId, data string) error {
	_ = e.sender.AnswerCallback(callbackId, "")

	switch {
	case strings.HasPrefix(data, "menu:"):
		return e.startIntake(ctx, userId, chatId, entity.Kind(strings.TrimPrefix(data, "menu:")))
	case strings.HasPrefix(data, "opt:"):
		return e.handleOption(ctx, userId, chatId, strings.TrimPrefix(data, "opt:"))
	case data == "photos:done":
		return e.finishPhotos(ctx, userId, chatId)
	case data == "confirm:send":
		return e.confirmSend(ctx, userId, chatId)
	case data == "confirm:more":
		return e.morePhotos(ctx, userId, chatId)
	case data == "fail:retry":
		return e.retrySend(ctx, userId, chatId)
	case data == "confirm:cancel", data == "fail:cancel":
		return e.cancel(ctx, userId, chatId)
	}

	e.log.With(slog.String("data", data)).Debug("unknown callback")
	return nil
}

// restart fails any active submission and shows the top-level menu.
func (e *Engine) restart(ctx context.Context, userId, chatId int64) error {
	if err := e.failActive(ctx, userId, entity.FailRestartByUser); err != nil {
		return err
	}
	return e.sendMenu(chatId)
}

// cancel fails any active submission and confirms to the user.
func (e *Engine) cancel(ctx context.Context, userId, chatId int64) error {
	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		_, err = e.sender.SendText(chatId, "Nothing to cancel. "+idleHint)
		return err
	}

	if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusFailed, entity.FailCancelledByUser); err != nil {
		return fmt.Errorf("cancelling submission: %w", err)
	}

	_, err = e.sender.SendText(chatId, "❌ Report cancelled. "+idleHint)
	return err
}

func (e *Engine) failActive(ctx context.Context, userId int64, reason entity.FailReason) error {
	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		return nil
	}

	if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusFailed, reason); err != nil {
		return fmt.Errorf("failing submission: %w", err)
	}
	return nil
}

func (e *Engine) sendMenu(chatId int64) error {
	_, err := e.sender.SendTextKeyboard(chatId, menuText, [][]Button{
		{{Text: "🏁 Competition result", Data: "menu:" + string(entity.KindCompetition)}},
		{{Text: "🏅 Achievement", Data: "menu:" + string(entity.KindAchievement)}},
	})
	return err
}

// startIntake creates a new submission of the chosen kind, retiring any
// previous active one so at most one owns the dialogue.
func (e *Engine) startIntake(ctx context.Context, userId, chatId int64, kind entity.Kind) error {
	if kind != entity.KindCompetition && kind != entity.KindAchievement {
		return e.sendMenu(chatId)
	}

	if err := e.failActive(ctx, userId, entity.FailRestartByUser); err != nil {
		return err
	}

	sub, err := e.store.CreateSubmission(ctx, userId, chatId, kind)
	if err != nil {
		return fmt.Errorf("creating submission: %w", err)
	}

	if e.monitor != nil {
		e.monitor.BroadcastSubmission("submission_created", sub)
	}

	return e.promptStep(ctx, sub)
}

// handleAnswer routes free text into the current collecting step.
func (e *Engine) handleAnswer(ctx context.Context, sub *entity.Submission, text string) error {
	switch step := sub.Step(); step {
	case entity.StepDate:
		if !validDate(text) {
			_, err := e.sender.SendText(sub.ChatId, "❌ That doesn't look like a date. Use DD.MM.YY or DD.MM.YYYY, e.g. 01.09.25.")
			return err
		}
		sub.Date = &text
		return e.saveAndPromptNext(ctx, sub)

	case entity.StepCustomEventType:
		if text == "" || utf8.RuneCountInString(text) > 100 {
			_, err := e.sender.SendText(sub.ChatId, "❌ Please type the event name, up to 100 characters.")
			return err
		}
		sub.CustomEventType = &text
		return e.saveAndPromptNext(ctx, sub)

	case entity.StepBody:
		if text == "" || utf8.RuneCountInString(text) > entity.BodyMaxLen {
			_, err := e.sender.SendText(sub.ChatId,
				fmt.Sprintf("❌ Please describe the achievement in up to %d characters.", entity.BodyMaxLen))
			return err
		}
		sub.Body = &text
		return e.saveAndPromptNext(ctx, sub)

	case entity.StepPhotos:
		return e.promptStep(ctx, sub)

	default:
		q, ok := questions[step]
		if !ok {
			return e.promptStep(ctx, sub)
		}
		value, matched := q.match(text)
		if !matched {
			if _, err := e.sender.SendText(sub.ChatId, "❌ Please pick one of the options below."); err != nil {
				return err
			}
			return e.promptStep(ctx, sub)
		}
		q.assign(sub, value)
		return e.saveAndPromptNext(ctx, sub)
	}
}

// handleOption applies an inline choice of form "<step>:<value>".
func (e *Engine) handleOption(ctx context.Context, userId, chatId int64, payload string) error {
	step, value, found := strings.Cut(payload, ":")
	if !found {
		return nil
	}

	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		return e.sendMenu(chatId)
	}
	if sub.Status != entity.StatusCollecting {
		return nil // stale button from an earlier prompt
	}

	current := sub.Step()
	if entity.Step(step) != current {
		return e.promptStep(ctx, sub)
	}

	q, ok := questions[current]
	if !ok || !q.accepts(value) {
		return e.promptStep(ctx, sub)
	}

	q.assign(sub, value)
	return e.saveAndPromptNext(ctx, sub)
}

// saveAndPromptNext persists the mutated submission first, then prompts
// whatever step the new field set derives. A crash between the two only
// costs the prompt, never the answer.
func (e *Engine) saveAndPromptNext(ctx context.Context, sub *entity.Submission) error {
	if err := e.store.SaveSubmission(ctx, sub); err != nil {
		return fmt.Errorf("saving answer: %w", err)
	}
	return e.promptStep(ctx, sub)
}

// promptStep asks for whatever the submission is missing next.
func (e *Engine) promptStep(ctx context.Context, sub *entity.Submission) error {
	switch step := sub.Step(); step {
	case entity.StepDate:
		_, err := e.sender.SendText(sub.ChatId, "📅 When was the event? (DD.MM.YY or DD.MM.YYYY)")
		return err
	case entity.StepCustomEventType:
		_, err := e.sender.SendText(sub.ChatId, "✏️ Type the event name:")
		return err
	case entity.StepBody:
		_, err := e.sender.SendText(sub.ChatId,
			fmt.Sprintf("✏️ Describe the achievement (up to %d characters):", entity.BodyMaxLen))
		return err
	case entity.StepPhotos:
		return e.promptPhotos(ctx, sub)
	default:
		q, ok := questions[step]
		if !ok {
			return fmt.Errorf("no question for step %s", step)
		}
		_, err := e.sender.SendTextKeyboard(sub.ChatId, q.prompt, q.keyboard())
		return err
	}
}

// appendPhoto runs the idempotent append and refreshes the count prompt.
func (e *Engine) appendPhoto(ctx context.Context, sub *entity.Submission, fileId, uniqueId string) error {
	count, added, err := e.store.AppendPhoto(ctx, sub.Id, fileId, uniqueId)
	if err != nil {
		return fmt.Errorf("appending photo: %w", err)
	}
	if !added {
		e.log.With(
			slog.String("submission", sub.Id),
			slog.String("unique_id", uniqueId),
		).Debug("duplicate photo ignored")
		return nil
	}

	if e.monitor != nil {
		e.monitor.BroadcastSubmission("photo_added", sub)
	}

	return e.promptPhotoCount(ctx, sub, count)
}

// promptPhotos issues the initial photo-collection prompt.
func (e *Engine) promptPhotos(ctx context.Context, sub *entity.Submission) error {
	text := "📷 Send the photos now. Press Done when you've sent them all."
	if n := len(sub.Photos); n > 0 {
		text = fmt.Sprintf("📷 Photos received: %d. Send more or press Done.", n)
	}
	return e.sendOrEditPrompt(ctx, sub, text)
}

// promptPhotoCount updates the running photo counter, editing the previous
// prompt in place when possible so the chat isn't flooded.
func (e *Engine) promptPhotoCount(ctx context.Context, sub *entity.Submission, count int) error {
	text := fmt.Sprintf("📷 Photos received: %d. Send more or press Done.", count)
	return e.sendOrEditPrompt(ctx, sub, text)
}

func (e *Engine) sendOrEditPrompt(ctx context.Context, sub *entity.Submission, text string) error {
	rows := [][]Button{{{Text: "✅ Done", Data: "photos:done"}}}

	if sub.PromptMessageId != 0 {
		if err := e.sender.EditTextKeyboard(sub.ChatId, sub.PromptMessageId, text, rows); err == nil {
			return nil
		}
		// stale or deleted prompt, fall through to a fresh send
	}

	msgId, err := e.sender.SendTextKeyboard(sub.ChatId, text, rows)
	if err != nil {
		return err
	}

	sub.PromptMessageId = msgId
	if err := e.store.SetPromptMessage(ctx, sub.Id, msgId); err != nil {
		return fmt.Errorf("saving prompt reference: %w", err)
	}
	return nil
}

// finishPhotos moves to confirmation, but only with at least one photo.
func (e *Engine) finishPhotos(ctx context.Context, userId, chatId int64) error {
	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		return e.sendMenu(chatId)
	}
	if sub.Status != entity.StatusCollecting || sub.Step() != entity.StepPhotos {
		return nil
	}

	if len(sub.Photos) == 0 {
		if _, err := e.sender.SendText(chatId, photosFirst); err != nil {
			return err
		}
		return e.promptPhotos(ctx, sub)
	}

	sub.Status = entity.StatusConfirming
	if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusConfirming, ""); err != nil {
		return fmt.Errorf("confirming submission: %w", err)
	}

	return e.promptConfirm(sub)
}

func (e *Engine) promptConfirm(sub *entity.Submission) error {
	text := fmt.Sprintf("Ready to send: %d photo(s). Send it to the club channel?", len(sub.Photos))
	_, err := e.sender.SendTextKeyboard(sub.ChatId, text, [][]Button{
		{{Text: "📤 Send", Data: "confirm:send"}},
		{{Text: "📷 Add more photos", Data: "confirm:more"}},
		{{Text: "❌ Cancel", Data: "confirm:cancel"}},
	})
	return err
}

func (e *Engine) promptRetry(sub *entity.Submission) error {
	_, err := e.sender.SendTextKeyboard(sub.ChatId,
		"⚠️ The report wasn't delivered. Retry, send more photos, or cancel.",
		[][]Button{
			{{Text: "🔁 Retry send", Data: "fail:retry"}},
			{{Text: "❌ Cancel", Data: "fail:cancel"}},
		})
	return err
}

// confirmSend hands the submission to the delivery pipeline.
func (e *Engine) confirmSend(ctx context.Context, userId, chatId int64) error {
	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		return e.sendMenu(chatId)
	}
	if sub.Status != entity.StatusConfirming {
		return nil
	}

	sub.Status = entity.StatusSending
	if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusSending, ""); err != nil {
		return fmt.Errorf("marking submission sending: %w", err)
	}

	return e.deliverer.Deliver(ctx, sub)
}

// morePhotos reopens photo collection from the confirmation screen.
func (e *Engine) morePhotos(ctx context.Context, userId, chatId int64) error {
	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil || sub.Status != entity.StatusConfirming {
		return nil
	}

	sub.Status = entity.StatusCollecting
	if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusCollecting, ""); err != nil {
		return fmt.Errorf("reopening photo collection: %w", err)
	}

	return e.promptPhotos(ctx, sub)
}

// retrySend re-runs delivery after a failure; with no photos collected yet
// it falls back to photo collection instead.
func (e *Engine) retrySend(ctx context.Context, userId, chatId int64) error {
	sub, err := e.store.FindActive(ctx, userId)
	if err != nil {
		return fmt.Errorf("loading submission: %w", err)
	}
	if sub == nil {
		return e.sendMenu(chatId)
	}
	if sub.Status != entity.StatusFailed {
		return nil
	}

	if len(sub.Photos) == 0 {
		sub.Status = entity.StatusCollecting
		if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusCollecting, ""); err != nil {
			return fmt.Errorf("reopening photo collection: %w", err)
		}
		return e.promptPhotos(ctx, sub)
	}

	sub.Status = entity.StatusSending
	if err := e.store.UpdateStatus(ctx, sub.Id, entity.StatusSending, ""); err != nil {
		return fmt.Errorf("marking submission sending: %w", err)
	}

	return e.deliverer.Deliver(ctx, sub)
}

// LargestVariant picks the file reference to store from the resolution
// variants of one photo, and the dedup key: the platform's stable unique
// id, falling back to the file reference itself.
func LargestVariant(sizes []tgbotapi.PhotoSize) (fileId, uniqueId string) {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.FileSize >= best.FileSize {
			best = p
		}
	}
	fileId = best.FileId
	uniqueId = best.FileUniqueId
	if uniqueId == "" {
		uniqueId = fileId
	}
	return fileId, uniqueId
}
