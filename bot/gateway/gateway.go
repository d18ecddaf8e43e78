package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"

	"SportRelay/bot/dialog"
	"SportRelay/internal/lib/sl"
)

// BatchLimit is the hard per-call item cap of the media group primitive.
const BatchLimit = 10

// RateLimitError is a send failure caused by platform throttling, carrying
// the machine-readable wait hint from the response.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Gateway is the thin outbound client for the Telegram bot API.
type Gateway struct {
	api     *tgbotapi.Bot
	limiter *RateLimiter
	log     *slog.Logger
	adminId int64
}

func New(apiKey string, adminId int64, ratePerSec float64, log *slog.Logger) (*Gateway, error) {
	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %w", err)
	}

	if ratePerSec <= 0 {
		ratePerSec = 3
	}

	return &Gateway{
		api:     api,
		limiter: NewRateLimiter(ratePerSec, 1),
		log:     log.With(sl.Module("gateway")),
		adminId: adminId,
	}, nil
}

// BotUsername returns the authenticated bot's username.
func (g *Gateway) BotUsername() string {
	return g.api.Username
}

// SendText sends a plain message and returns its message id.
func (g *Gateway) SendText(chatId int64, text string) (int64, error) {
	if err := g.limiter.Wait(context.Background()); err != nil {
		return 0, err
	}

	msg, err := g.api.SendMessage(chatId, text, nil)
	if err != nil {
		return 0, g.classify(err)
	}
	return msg.MessageId, nil
}

// SendTextKeyboard sends a message with an inline keyboard and returns the
// message id.
func (g *Gateway) SendTextKeyboard(chatId int64, text string, rows [][]dialog.Button) (int64, error) {
	if err := g.limiter.Wait(context.Background()); err != nil {
		return 0, err
	}

	msg, err := g.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{
		ReplyMarkup: tgbotapi.InlineKeyboardMarkup{
			InlineKeyboard: toKeyboard(rows),
		},
	})
	if err != nil {
		return 0, g.classify(err)
	}
	return msg.MessageId, nil
}

// EditTextKeyboard replaces the text and keyboard of a previously sent
// message. Best effort: callers are expected to fall back to a fresh send
// when the target is stale.
func (g *Gateway) EditTextKeyboard(chatId, messageId int64, text string, rows [][]dialog.Button) error {
	if err := g.limiter.Wait(context.Background()); err != nil {
		return err
	}

	_, _, err := g.api.EditMessageText(text, &tgbotapi.EditMessageTextOpts{
		ChatId:    chatId,
		MessageId: messageId,
		ReplyMarkup: tgbotapi.InlineKeyboardMarkup{
			InlineKeyboard: toKeyboard(rows),
		},
	})
	if err != nil {
		return g.classify(err)
	}
	return nil
}

// SendPhotoBatch sends up to BatchLimit photos as one media group,
// referencing already-uploaded files by id.
func (g *Gateway) SendPhotoBatch(chatId int64, fileIds []string) error {
	if len(fileIds) == 0 {
		return nil
	}
	if len(fileIds) > BatchLimit {
		return fmt.Errorf("photo batch of %d exceeds limit of %d", len(fileIds), BatchLimit)
	}

	if err := g.limiter.Wait(context.Background()); err != nil {
		return err
	}

	media := make([]tgbotapi.InputMedia, len(fileIds))
	for i, id := range fileIds {
		media[i] = tgbotapi.InputMediaPhoto{
			Media: tgbotapi.InputFileByID(id),
		}
	}

	_, err := g.api.SendMediaGroup(chatId, media, nil)
	if err != nil {
		return g.classify(err)
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops showing a
// spinner. Failures are logged, not propagated: a missed ack is cosmetic.
func (g *Gateway) AnswerCallback(callbackId, text string) error {
	if err := g.limiter.Wait(context.Background()); err != nil {
		return err
	}

	_, err := g.api.AnswerCallbackQuery(callbackId, &tgbotapi.AnswerCallbackQueryOpts{
		Text: text,
	})
	if err != nil {
		g.log.With(sl.Err(err)).Warn("answering callback")
	}
	return nil
}

// NotifyAdmin reports an internal problem to the admin chat. Fire and
// forget: the caller is usually a failure path already.
func (g *Gateway) NotifyAdmin(text string) {
	if g.adminId == 0 {
		return
	}
	if _, err := g.SendText(g.adminId, text); err != nil {
		g.log.With(sl.Err(err)).Warn("notifying admin")
	}
}

// classify maps a Telegram error onto the gateway's taxonomy: throttling
// becomes a RateLimitError with the retry hint, everything else passes
// through untouched.
func (g *Gateway) classify(err error) error {
	var tgErr *tgbotapi.TelegramError
	if errors.As(err, &tgErr) && tgErr.ResponseParams != nil && tgErr.ResponseParams.RetryAfter > 0 {
		wait := time.Duration(tgErr.ResponseParams.RetryAfter) * time.Second
		g.limiter.SetFloodWait(wait)
		return &RateLimitError{RetryAfter: wait}
	}
	return err
}

func toKeyboard(rows [][]dialog.Button) [][]tgbotapi.InlineKeyboardButton {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, len(rows))
	for i, row := range rows {
		keyboard[i] = make([]tgbotapi.InlineKeyboardButton, len(row))
		for j, btn := range row {
			keyboard[i][j] = tgbotapi.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.Data,
			}
		}
	}
	return keyboard
}
