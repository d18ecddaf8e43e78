package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SportRelay/bot/delivery"
)

type fakeCore struct {
	batches []int
	summary delivery.Summary
}

func (f *fakeCore) Sweep(_ context.Context, batchOverride int) delivery.Summary {
	f.batches = append(f.batches, batchOverride)
	return f.summary
}

func post(handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/worker/sweep", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestSweep_EmptyBodyUsesDefaults(t *testing.T) {
	core := &fakeCore{summary: delivery.Summary{
		Processed: 3,
		Errors:    []string{},
		Duration:  1500 * time.Millisecond,
	}}
	handler := Sweep(slog.New(slog.NewTextHandler(io.Discard, nil)), core)

	rec := post(handler, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{0}, core.batches)

	var resp SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Processed)
	require.Empty(t, resp.Errors)
	require.Equal(t, int64(1500), resp.DurationMs)
}

func TestSweep_BatchOverride(t *testing.T) {
	core := &fakeCore{summary: delivery.Summary{Errors: []string{}}}
	handler := Sweep(slog.New(slog.NewTextHandler(io.Discard, nil)), core)

	rec := post(handler, `{"batch":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{25}, core.batches)
}

func TestSweep_InvalidBatchRejected(t *testing.T) {
	core := &fakeCore{}
	handler := Sweep(slog.New(slog.NewTextHandler(io.Discard, nil)), core)

	for _, body := range []string{`{"batch":-5}`, `{"batch":500}`} {
		rec := post(handler, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Empty(t, core.batches)

	// Zero means "not set" and falls back to the configured batch size.
	rec := post(handler, `{"batch":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{0}, core.batches)
}

func TestSweep_MalformedBodyRejected(t *testing.T) {
	core := &fakeCore{}
	handler := Sweep(slog.New(slog.NewTextHandler(io.Discard, nil)), core)

	rec := post(handler, `{batch:`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, core.batches)
}

func TestSweep_ErrorsReported(t *testing.T) {
	core := &fakeCore{summary: delivery.Summary{
		Processed: 2,
		Errors:    []string{"sub-1: rate limited, retry after 30s"},
	}}
	handler := Sweep(slog.New(slog.NewTextHandler(io.Discard, nil)), core)

	rec := post(handler, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Processed)
	require.Len(t, resp.Errors, 1)
}
