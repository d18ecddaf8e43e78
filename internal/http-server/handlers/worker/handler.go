package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"SportRelay/bot/delivery"
	"SportRelay/internal/lib/api/response"
	"SportRelay/internal/lib/sl"
)

// Core runs one bounded delivery sweep.
type Core interface {
	Sweep(ctx context.Context, batchOverride int) delivery.Summary
}

type SweepRequest struct {
	Batch int `json:"batch" validate:"omitempty,gte=1,lte=100"`
}

type SweepResponse struct {
	Processed  int      `json:"processed"`
	Errors     []string `json:"errors"`
	DurationMs int64    `json:"duration_ms"`
}

var validate = validator.New()

// Sweep triggers one delivery sweep over pending submissions. The body is
// optional; when present it may override the configured batch size.
func Sweep(log *slog.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.worker"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req SweepRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Warn("invalid sweep request", sl.Err(err))
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("Invalid request body"))
				return
			}
			if err := validate.Struct(&req); err != nil {
				logger.Warn("invalid sweep batch", sl.Err(err))
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("Batch must be between 1 and 100"))
				return
			}
		}

		summary := core.Sweep(r.Context(), req.Batch)

		render.JSON(w, r, SweepResponse{
			Processed:  summary.Processed,
			Errors:     summary.Errors,
			DurationMs: summary.Duration.Milliseconds(),
		})
	}
}
