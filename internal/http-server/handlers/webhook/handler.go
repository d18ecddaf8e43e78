package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"SportRelay/internal/lib/api/response"
	"SportRelay/internal/lib/sl"
)

// Engine is the dialogue state machine the dispatcher routes events into.
type Engine interface {
	HandleText(ctx context.Context, userId, chatId int64, text string) error
	HandlePhoto(ctx context.Context, userId, chatId int64, sizes []tgbotapi.PhotoSize) error
	HandleCallback(ctx context.Context, userId, chatId int64, callbackId, data string) error
}

// Ledger is the processed-update dedup record.
type Ledger interface {
	RecordUpdate(ctx context.Context, updateId int64) (alreadyExisted bool, err error)
}

// Notifier reports internal failures to the admin chat.
type Notifier interface {
	NotifyAdmin(text string)
}

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Handler dispatches one inbound Telegram update. It acknowledges the
// transport with 200 no matter what happens internally — Telegram would
// otherwise redeliver the update in a loop — and reports processing errors
// to the admin chat instead.
func Handler(log *slog.Logger, ledger Ledger, engine Engine, notifier Notifier, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.webhook"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if secret != "" && r.Header.Get(secretTokenHeader) != secret {
			logger.Warn("webhook secret mismatch")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			logger.Warn("undecodable update", sl.Err(err))
			render.JSON(w, r, response.Ok("ignored"))
			return
		}

		alreadyExisted, err := ledger.RecordUpdate(r.Context(), update.UpdateId)
		if err != nil {
			logger.Error("recording update", slog.Int64("update_id", update.UpdateId), sl.Err(err))
			notifier.NotifyAdmin(fmt.Sprintf("webhook: recording update %d: %v", update.UpdateId, err))
			render.JSON(w, r, response.Ok("acknowledged"))
			return
		}
		if alreadyExisted {
			logger.Debug("duplicate update", slog.Int64("update_id", update.UpdateId))
			render.JSON(w, r, response.Ok("duplicate"))
			return
		}

		if err := dispatch(r.Context(), engine, &update); err != nil {
			logger.Error("handling update", slog.Int64("update_id", update.UpdateId), sl.Err(err))
			notifier.NotifyAdmin(fmt.Sprintf("webhook: handling update %d: %v", update.UpdateId, err))
		}

		render.JSON(w, r, response.Ok("processed"))
	}
}

// dispatch routes the update to the matching engine entry point. Only
// private conversations drive the intake dialogue; everything else is
// acknowledged and dropped.
func dispatch(ctx context.Context, engine Engine, update *tgbotapi.Update) error {
	if cq := update.CallbackQuery; cq != nil {
		// In a private chat the chat id equals the user id, and the stored
		// submission carries the authoritative chat anyway.
		return engine.HandleCallback(ctx, cq.From.Id, cq.From.Id, cq.Id, cq.Data)
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	if msg.Chat.Type != "private" {
		return nil
	}

	if len(msg.Photo) > 0 {
		return engine.HandlePhoto(ctx, msg.From.Id, msg.Chat.Id, msg.Photo)
	}
	if msg.Text != "" {
		return engine.HandleText(ctx, msg.From.Id, msg.Chat.Id, msg.Text)
	}
	return nil
}
