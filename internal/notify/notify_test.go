package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type stubSender struct {
	name string
	err  error
	got  []Message
}

func (s *stubSender) Send(_ context.Context, msg Message) error {
	s.got = append(s.got, msg)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_Filter(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"nft_sold", " "}, discard())

	assert.NoError(t, n.Notify(context.Background(), Message{Event: "bid_placed"}))
	assert.NoError(t, n.Notify(context.Background(), Message{Event: "nft_sold", Title: "Sold"}))
	assert.Equal(t, 1, len(s.got))
	check.Equal(t, "Sold", s.got[0].Title)
}

func TestNotifier_FailuresCollected(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), Message{Event: "nft_listed"})
	check.True(t, errors.Is(err, boom))
	check.Equal(t, 1, len(good.got))
}

func TestNotifier_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	check.False(t, n.Enabled("nft_sold"))
	check.NoError(t, n.Notify(context.Background(), Message{Event: "nft_sold"}))
}

func TestWebhookSender_Signs(t *testing.T) {
	payload := []byte(`{"type":"nft_sold","asset_id":2}`)
	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, err := strconv.ParseInt(r.Header.Get(crypto.TimestampHeader), 10, 64)
		if err == nil {
			verified = crypto.VerifyPayload([]byte("k"), ts, body, r.Header.Get(crypto.SignatureHeader))
		}
		check.Equal(t, "nft_sold", r.Header.Get("X-Nftmarket-Event"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "k").Send(context.Background(), Message{Event: "nft_sold", Payload: payload})
	assert.NoError(t, err)
	check.True(t, verified)
}

func TestWebhookSender_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "").Send(context.Background(), Message{Event: "x", Payload: []byte("{}")})
	check.Error(t, err)

	err = NewWebhookSender(srv.URL, "").Send(context.Background(), Message{Event: "x"})
	check.Error(t, err)
}

func TestChatSenders(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		check.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.baseURL = srv.URL
	assert.NoError(t, tg.Send(context.Background(), Message{Title: "Sold", Body: "asset 2"}))
	check.Equal(t, "42", got["chat_id"])
	check.Equal(t, "*Sold*\nasset 2", got["text"])

	dsrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer dsrv.Close()
	assert.NoError(t, NewDiscordSender(dsrv.URL).Send(context.Background(), Message{Title: "Listed", Body: "b"}))
	check.Equal(t, "**Listed**\nb", got["content"])
}
