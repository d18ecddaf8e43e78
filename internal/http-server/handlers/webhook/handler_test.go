package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	texts     []string
	photos    int
	callbacks []string
	err       error
}

func (f *fakeEngine) HandleText(_ context.Context, _, _ int64, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeEngine) HandlePhoto(_ context.Context, _, _ int64, _ []tgbotapi.PhotoSize) error {
	f.photos++
	return f.err
}

func (f *fakeEngine) HandleCallback(_ context.Context, _, _ int64, _, data string) error {
	f.callbacks = append(f.callbacks, data)
	return f.err
}

type fakeLedger struct {
	seen map[int64]bool
	err  error
}

func (f *fakeLedger) RecordUpdate(_ context.Context, updateId int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[int64]bool{}
	}
	if f.seen[updateId] {
		return true, nil
	}
	f.seen[updateId] = true
	return false, nil
}

type fakeNotifier struct {
	notices []string
}

func (f *fakeNotifier) NotifyAdmin(text string) {
	f.notices = append(f.notices, text)
}

func newTestHandler(engine *fakeEngine, ledger *fakeLedger, notifier *fakeNotifier, secret string) http.HandlerFunc {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Handler(log, ledger, engine, notifier, secret)
}

func post(handler http.HandlerFunc, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(secretTokenHeader, secret)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

const textUpdate = `{"update_id":1001,"message":{"message_id":5,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":42,"type":"private"},"text":"01.09.25"}}`

func TestHandler_DispatchesText(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestHandler(engine, &fakeLedger{}, &fakeNotifier{}, "")

	rec := post(handler, textUpdate, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"01.09.25"}, engine.texts)
}

func TestHandler_DuplicateUpdateIgnored(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestHandler(engine, &fakeLedger{}, &fakeNotifier{}, "")

	first := post(handler, textUpdate, "")
	second := post(handler, textUpdate, "")

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	require.Len(t, engine.texts, 1)
	require.Contains(t, second.Body.String(), "duplicate")
}

func TestHandler_SecretMismatch(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestHandler(engine, &fakeLedger{}, &fakeNotifier{}, "s3cret")

	rec := post(handler, textUpdate, "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, engine.texts)

	rec = post(handler, textUpdate, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.texts, 1)
}

func TestHandler_GroupChatIgnored(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestHandler(engine, &fakeLedger{}, &fakeNotifier{}, "")

	body := `{"update_id":1002,"message":{"message_id":5,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":-100500,"type":"supergroup"},"text":"hi"}}`
	rec := post(handler, body, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, engine.texts)
}

func TestHandler_DispatchesCallback(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestHandler(engine, &fakeLedger{}, &fakeNotifier{}, "")

	body := `{"update_id":1003,"callback_query":{"id":"cb1","from":{"id":42,"is_bot":false,"first_name":"A"},"data":"confirm:send"}}`
	rec := post(handler, body, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"confirm:send"}, engine.callbacks)
}

func TestHandler_DispatchesPhoto(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestHandler(engine, &fakeLedger{}, &fakeNotifier{}, "")

	body := `{"update_id":1004,"message":{"message_id":5,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":42,"type":"private"},"photo":[{"file_id":"f1","file_unique_id":"u1","width":90,"height":90,"file_size":100}]}}`
	rec := post(handler, body, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, engine.photos)
}

func TestHandler_EngineErrorStillAcks(t *testing.T) {
	engine := &fakeEngine{err: errors.New("store unavailable")}
	notifier := &fakeNotifier{}
	handler := newTestHandler(engine, &fakeLedger{}, notifier, "")

	rec := post(handler, textUpdate, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, notifier.notices, 1)
	require.Contains(t, notifier.notices[0], "1001")
}

func TestHandler_LedgerErrorStillAcks(t *testing.T) {
	engine := &fakeEngine{}
	notifier := &fakeNotifier{}
	handler := newTestHandler(engine, &fakeLedger{err: errors.New("mongo down")}, notifier, "")

	rec := post(handler, textUpdate, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, engine.texts)
	require.Len(t, notifier.notices, 1)
}

func TestHandler_UndecodableBodyStillAcks(t *testing.T) {
	engine := &fakeEngine{}
	handler := newTestHandler(engine, &fakeLedger{}, &fakeNotifier{}, "")

	rec := post(handler, "{not json", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, engine.texts)
}
