package ws

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SportRelay/entity"
)

func TestHub_BroadcastProjectsSubmission(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))

	sub := &entity.Submission{
		Id:       "sub-1",
		UserId:   42,
		Kind:     entity.KindCompetition,
		Status:   entity.StatusSending,
		Photos:   []entity.Photo{{FileId: "f1", UniqueId: "u1"}},
		Attempts: 2,
	}
	hub.BroadcastSubmission("submission_created", sub)

	select {
	case event := <-hub.broadcast:
		require.Equal(t, "submission_created", event.Type)
		require.Equal(t, "sub-1", event.Data.Id)
		require.Equal(t, 1, event.Data.Photos)
		require.Equal(t, 2, event.Data.Attempts)
	case <-time.After(time.Second):
		t.Fatal("no event queued")
	}
}

// A full queue must never block the dialogue or delivery paths.
func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sub := &entity.Submission{Id: "sub-1"}

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.BroadcastSubmission("photo_added", sub)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full queue")
	}
}
