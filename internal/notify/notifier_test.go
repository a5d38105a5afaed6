package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_AlertFiltersByLevel(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, "warning", discardLogger())

	n.Alert(context.Background(), domain.Alert{Level: domain.AlertInfo, Title: "reconnected"})
	assert.Empty(t, s.titles)

	n.Alert(context.Background(), domain.Alert{
		Level:   domain.AlertCritical,
		Title:   "Inventory margin for ETH is larger than 2x!",
		Message: "audit",
		Tags:    map[string]string{"wallet": "1", "token": "ETH"},
	})
	require.Len(t, s.titles, 1)
	assert.Equal(t, "[CRITICAL] Inventory margin for ETH is larger than 2x!", s.titles[0])
	assert.Equal(t, "audit\ntoken: ETH\nwallet: 1", s.messages[0])
}

func TestNotifier_SenderFailureIsSwallowed(t *testing.T) {
	bad := &recordingSender{err: errors.New("boom")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, "", discardLogger())

	n.Alert(context.Background(), domain.Alert{Level: domain.AlertWarning, Title: "x"})
	assert.Len(t, good.titles, 1)

	err := n.NotifyAll(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "1 sender(s) failed")
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "title & co", "JRC_ETH"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>title &amp; co</b>\nJRC_ETH", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestDiscordSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "unexpected status 429")
}
