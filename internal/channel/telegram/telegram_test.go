package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/promobot/internal/channel"
)

// fakeAPI is a minimal Bot API server keyed by method name.
type fakeAPI struct {
	mu       sync.Mutex
	calls    map[string]int
	forms    map[string][]map[string]string
	handlers map[string]func(call int) (int, any)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls: map[string]int{},
		forms: map[string][]map[string]string{},
		handlers: map[string]func(int) (int, any){
			"getMe": func(int) (int, any) {
				return http.StatusOK, map[string]any{"ok": true, "result": map[string]any{"id": 1, "is_bot": true, "first_name": "promo", "username": "promo_bot"}}
			},
		},
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	method := parts[len(parts)-1]
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}
	f.mu.Lock()
	f.calls[method]++
	call := f.calls[method]
	f.forms[method] = append(f.forms[method], form)
	handler := f.handlers[method]
	f.mu.Unlock()

	status, body := http.StatusOK, any(map[string]any{"ok": true, "result": true})
	if handler != nil {
		status, body = handler(call)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeAPI) set(method string, h func(call int) (int, any)) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAPI) lastForm(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	forms := f.forms[method]
	if len(forms) == 0 {
		return nil
	}
	return forms[len(forms)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client, err := NewClient(nil, Config{
		BotToken:    "123:abc",
		Endpoint:    srv.URL + "/bot%s/%s",
		PollTimeout: time.Second,
		RetryDelay:  10 * time.Millisecond,
		SendRate:    1000,
	})
	require.NoError(t, err)
	return client
}

func apiError(code int, description string) (int, any) {
	return code, map[string]any{"ok": false, "error_code": code, "description": description}
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(nil, Config{})
	assert.ErrorIs(t, err, channel.ErrUnauthorized)
}

func TestClearWebhook(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api)

	require.NoError(t, client.ClearWebhook(context.Background()))
	assert.Equal(t, 1, api.count("deleteWebhook"))
	assert.Equal(t, 1, api.count("getMe"))
}

func TestConnectUnauthorized(t *testing.T) {
	api := newFakeAPI()
	api.set("getMe", func(int) (int, any) { return apiError(http.StatusUnauthorized, "Unauthorized") })
	client := newTestClient(t, api)

	_, err := client.Connect(context.Background())
	assert.ErrorIs(t, err, channel.ErrUnauthorized)
}

func TestConnectDeliversUpdates(t *testing.T) {
	api := newFakeAPI()
	api.set("getUpdates", func(call int) (int, any) {
		if call > 1 {
			return http.StatusOK, map[string]any{"ok": true, "result": []any{}}
		}
		return http.StatusOK, map[string]any{"ok": true, "result": []any{
			map[string]any{
				"update_id": 10,
				"message": map[string]any{
					"message_id": 5,
					"date":       1700000000,
					"text":       "/viral growth",
					"from":       map[string]any{"id": 42, "is_bot": false, "first_name": "Ann", "username": "ann"},
					"chat":       map[string]any{"id": 42, "type": "private"},
				},
			},
		}}
	})
	client := newTestClient(t, api)

	conn, err := client.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close(context.Background())

	select {
	case msg := <-conn.Updates():
		assert.Equal(t, "42", msg.UserID)
		assert.Equal(t, "42", msg.ChatID)
		assert.Equal(t, "ann", msg.Username)
		assert.Equal(t, "/viral growth", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	assert.Eventually(t, func() bool {
		form := api.lastForm("getUpdates")
		return form != nil && form["offset"] == "11"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectReportsConflict(t *testing.T) {
	api := newFakeAPI()
	api.set("getUpdates", func(int) (int, any) {
		return apiError(http.StatusConflict, "Conflict: terminated by other getUpdates request")
	})
	client := newTestClient(t, api)

	conn, err := client.Connect(context.Background())
	require.NoError(t, err)

	select {
	case err := <-conn.Errors():
		assert.ErrorIs(t, err, channel.ErrConflict)
	case <-time.After(2 * time.Second):
		t.Fatal("no conflict reported")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
	require.NoError(t, conn.Close(ctx))
}

func TestSendTextAndChannel(t *testing.T) {
	api := newFakeAPI()
	var sent atomic.Int32
	api.set("sendMessage", func(int) (int, any) {
		sent.Add(1)
		return http.StatusOK, map[string]any{"ok": true, "result": map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 1, "type": "private"}}}
	})
	client := newTestClient(t, api)
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, "42", channel.HTML("<b>hi</b>")))
	form := api.lastForm("sendMessage")
	assert.Equal(t, "42", form["chat_id"])
	assert.Equal(t, "HTML", form["parse_mode"])

	require.NoError(t, client.Send(ctx, "@promo_channel", channel.Text("post")))
	assert.Equal(t, "@promo_channel", api.lastForm("sendMessage")["chat_id"])
	assert.Equal(t, int32(2), sent.Load())

	assert.Error(t, client.Send(ctx, "not-a-chat", channel.Text("x")))
	assert.Error(t, client.Send(ctx, "", channel.Text("x")))
	assert.Error(t, client.Send(ctx, "42", channel.Text(" ")))
}

func TestSendRespectsContext(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	defer close(release)
	api.set("sendMessage", func(int) (int, any) {
		<-release
		return http.StatusOK, map[string]any{"ok": true}
	})
	client := newTestClient(t, api)
	require.NoError(t, client.ClearWebhook(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := client.Send(ctx, "42", channel.Text("hello"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestToMessage(t *testing.T) {
	_, ok := toMessage(tgbotapi.Update{})
	assert.False(t, ok)

	_, ok = toMessage(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}})
	assert.False(t, ok, "messages without text are ignored")

	msg, ok := toMessage(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:  7,
		Caption:    "look",
		Chat:       &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		SenderChat: &tgbotapi.Chat{ID: -200, Title: "News"},
	}})
	require.True(t, ok)
	assert.Equal(t, "look", msg.Text)
	assert.Equal(t, "-200", msg.UserID)
	assert.Equal(t, "News", msg.Username)
	assert.Equal(t, "-100", msg.ChatID)
}

func TestChatRef(t *testing.T) {
	id, name, err := chatRef("@chan")
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Equal(t, "@chan", name)

	id, name, err = chatRef("-1001")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), id)
	assert.Empty(t, name)

	_, _, err = chatRef("chan")
	assert.Error(t, err)
}
