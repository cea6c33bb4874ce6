package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pogo-ws/bridge/internal/broadcast"
	"github.com/pogo-ws/bridge/internal/policy"
	"github.com/pogo-ws/bridge/store"
	"github.com/pogo-ws/bridge/store/mem"
)

// recordingTransport implements both publish primitives.
type recordingTransport struct {
	multiCalls int
	channels   []string
	event      string
}

func (m *recordingTransport) PublishMulti(_ context.Context, _ string, channels []byte, event string, _ []byte) error {
	m.multiCalls++
	m.event = event
	_ = json.Unmarshal(channels, &m.channels)
	return nil
}

func (m *recordingTransport) Publish(_ context.Context, _, channel, _ string, _ []byte) error {
	m.channels = append(m.channels, channel)
	return nil
}

func newTestApp(t *testing.T) (*App, *recordingTransport) {
	t.Helper()

	st, err := mem.New(mem.Config{})
	require.NoError(t, err)

	pol, err := policy.New([]policy.RuleConfig{
		{Pattern: "orders.*"},
		{Pattern: "chat.*", MemberInfo: []string{"name"}},
	}, zap.NewNop())
	require.NoError(t, err)

	tr := &recordingTransport{}
	metrics := NewMetrics(prometheus.NewRegistry())

	cfg := &Config{
		AppID:         "test-app",
		Secret:        "my-secret",
		APIKey:        "trigger-key",
		SessionCookie: "session",
	}
	app := &App{
		cfg:     cfg,
		bcast:   broadcast.New(broadcast.Config{AppID: cfg.AppID, Secret: cfg.Secret}, pol, tr, tr, metrics, zap.NewNop()),
		store:   st,
		metrics: metrics,
		log:     zap.NewNop(),
	}
	return app, tr
}

func addTestSession(t *testing.T, app *App, token, userID string, info map[string]interface{}) {
	t.Helper()
	require.NoError(t, app.store.AddSession(token, store.Session{
		UserID: userID,
		Info:   info,
	}, time.Minute))
}

func postForm(srv *httptest.Server, path string, form url.Values, cookie *http.Cookie) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return srv.Client().Do(req)
}

func TestHandleAuthPublic(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	resp, err := postForm(srv, "/auth", url.Values{
		"channel_name": {"announcements"},
		"socket_id":    {"1.1"},
	}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out broadcast.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, strings.HasPrefix(out.Auth, "test-app:"))
	assert.Empty(t, out.ChannelData)
}

func TestHandleAuthPrivate(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	addTestSession(t, app, "tok1", "7", nil)

	form := url.Values{
		"channel_name": {"private-orders.7"},
		"socket_id":    {"1.1"},
	}

	// Without a session: denied.
	resp, err := postForm(srv, "/auth", form, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// With a session cookie: granted.
	resp, err = postForm(srv, "/auth", form, &http.Cookie{Name: "session", Value: "tok1"})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleAuthPresenceJSON(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	addTestSession(t, app, "tok1", "7", map[string]interface{}{
		"name":  "Ann",
		"email": "ann@example.com",
	})

	body := `{"channel_name":"presence-chat.lobby","socket_id":"2.2"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok1")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out broadcast.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ChannelData)

	var data struct {
		UserID   string                 `json:"user_id"`
		UserInfo map[string]interface{} `json:"user_info"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.ChannelData), &data))
	assert.Equal(t, "7", data.UserID)
	assert.Equal(t, "Ann", data.UserInfo["name"])
	// Unlisted attributes stay private.
	assert.NotContains(t, data.UserInfo, "email")
}

func TestHandleAuthMissingFields(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	resp, err := postForm(srv, "/auth", url.Values{"socket_id": {"1.1"}}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleUserAuth(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	// Unauthenticated: denied.
	resp, err := postForm(srv, "/user-auth", url.Values{"socket_id": {"1.1"}}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	addTestSession(t, app, "tok1", "123", map[string]interface{}{"name": "Alice"})

	resp, err = postForm(srv, "/user-auth", url.Values{"socket_id": {"1.1"}},
		&http.Cookie{Name: "session", Value: "tok1"})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out broadcast.UserAuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, `{"id":"123","user_info":{"name":"Alice"}}`, out.UserData)
	assert.True(t, strings.HasPrefix(out.Auth, "test-app:"))
}

func TestHandleWebhook(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	body := `{"time_ms":1700000000000,"events":[` +
		`{"name":"channel_occupied","channel":"presence-chat.lobby"},` +
		`{"name":"channel_vacated","channel":"orders"}]}`

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	req.Header.Set(headerSignature, broadcast.Sign([]byte("my-secret"), []byte(body)))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	chs, err := app.store.ListOccupied()
	require.NoError(t, err)
	assert.Equal(t, []string{"presence-chat.lobby"}, chs)
}

func TestHandleWebhookBadSignature(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	body := `{"events":[{"name":"channel_occupied","channel":"a"}]}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	req.Header.Set(headerSignature, "deadbeef")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The body must not have been processed.
	chs, err := app.store.ListOccupied()
	require.NoError(t, err)
	assert.Empty(t, chs)
}

func TestHandleTrigger(t *testing.T) {
	app, tr := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	body := `{"channels":["a","b"],"event":"order.created","data":{"id":9}}`

	// Wrong API key.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/events", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, tr.multiCalls)

	// Correct API key: dispatched via the batched path.
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/events", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer trigger-key")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, tr.multiCalls)
	assert.Equal(t, []string{"a", "b"}, tr.channels)
	assert.Equal(t, "order.created", tr.event)
}

func TestHandleChannels(t *testing.T) {
	app, _ := newTestApp(t)
	srv := httptest.NewServer(initRouter(app, nil))
	defer srv.Close()

	require.NoError(t, app.store.MarkOccupied("orders"))

	resp, err := srv.Client().Get(srv.URL + "/channels")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data struct {
			Channels []string `json:"channels"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"orders"}, out.Data.Channels)
}
