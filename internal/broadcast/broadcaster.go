// Package broadcast authorizes channel joins, binds sockets to
// authenticated users and forwards application events to the real-time
// transport, following the Pusher wire-protocol conventions. It owns no
// state beyond its app-id/secret configuration; everything else is
// injected.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"
)

// ErrAccessDenied indicates that the access verifier rejected a channel
// join, or that an unauthenticated caller attempted user authentication.
var ErrAccessDenied = errors.New("access denied")

// Identity is the host application's view of an authenticated user: an
// identifier plus a serializable attribute map. How the user logged in is
// the host's business.
type Identity struct {
	ID   string
	Info map[string]interface{}
}

// MemberData is the public identity a presence-channel member exposes to
// other members. By convention it carries at least an "id" key.
type MemberData map[string]interface{}

// AccessVerifier answers whether an identity may join a channel. It is
// called with the normalized (prefix-stripped) channel name, never for
// public channels. Implementations return ErrAccessDenied to reject; any
// other error propagates to the caller untranslated. The returned member
// data is only consulted for presence channels.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, ident *Identity, channel string) (MemberData, error)
}

// Publisher publishes one event to one channel.
type Publisher interface {
	Publish(ctx context.Context, appID, channel, event string, payload []byte) error
}

// MultiPublisher publishes one event to many channels in a single call.
// channels is a JSON array of channel-name strings.
type MultiPublisher interface {
	PublishMulti(ctx context.Context, appID string, channels []byte, event string, payload []byte) error
}

// AuthResponse is returned to a client joining a channel. ChannelData is
// set only for presence channels.
type AuthResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UserAuthResponse is returned to a client performing user-level
// authentication (pusher:signin).
type UserAuthResponse struct {
	Auth     string `json:"auth"`
	UserData string `json:"user_data"`
}

// Config holds the credentials shared with the transport. Both fields are
// required; there are no process-wide defaults.
type Config struct {
	AppID  string
	Secret string
}

// Broadcaster is the trust boundary between the host application and the
// real-time transport. Safe for concurrent use: all fields are read-only
// after construction.
type Broadcaster struct {
	appID    string
	secret   []byte
	verifier AccessVerifier
	multi    MultiPublisher
	single   Publisher
	stats    Stats
	log      *zap.Logger
}

// Stats receives dispatch outcome counts. Implementations must be
// concurrency-safe.
type Stats interface {
	IncBroadcast(path string)
}

// New returns a Broadcaster. Either publisher may be nil, in which case
// the corresponding dispatch path is unavailable; with both nil,
// Broadcast is a no-op and the rest of the service still works. stats may
// be nil.
func New(cfg Config, verifier AccessVerifier, multi MultiPublisher, single Publisher, stats Stats, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		appID:    cfg.AppID,
		secret:   []byte(cfg.Secret),
		verifier: verifier,
		multi:    multi,
		single:   single,
		stats:    stats,
		log:      log,
	}
}

type channelData struct {
	UserID   string     `json:"user_id"`
	UserInfo MemberData `json:"user_info"`
}

// Authorize decides whether ident may join the named channel and, if so,
// mints the auth token the client hands to the transport. Public channels
// skip verification entirely. The token signs socketID and the full
// channel name (and, for presence channels, the member payload), so it
// cannot be replayed against another socket or channel.
func (b *Broadcaster) Authorize(ctx context.Context, socketID, channelName string, ident *Identity) (*AuthResponse, error) {
	var (
		typ    = Classify(channelName)
		member MemberData
	)

	if typ != ChannelPublic {
		m, err := b.verifier.VerifyAccess(ctx, ident, Normalize(channelName))
		if err != nil {
			return nil, err
		}
		member = m
	}

	toSign := socketID + ":" + channelName
	out := &AuthResponse{}

	if typ == ChannelPresence {
		userID := ""
		if ident != nil {
			userID = ident.ID
		}
		if id, ok := stringifyID(member["id"]); ok {
			userID = id
		}

		data, err := json.Marshal(channelData{UserID: userID, UserInfo: member})
		if err != nil {
			return nil, err
		}
		out.ChannelData = string(data)
		toSign += ":" + out.ChannelData
	}

	out.Auth = b.appID + ":" + Sign(b.secret, []byte(toSign))
	return out, nil
}

type userData struct {
	ID       string                 `json:"id"`
	UserInfo map[string]interface{} `json:"user_info"`
}

// AuthenticateUser binds a socket connection to an authenticated identity.
// The signature covers both the socket id and the full identity payload,
// so it cannot be replayed against a different socket or substituted with
// a different identity.
func (b *Broadcaster) AuthenticateUser(socketID string, ident *Identity) (*UserAuthResponse, error) {
	if ident == nil {
		return nil, ErrAccessDenied
	}

	data, err := json.Marshal(userData{ID: ident.ID, UserInfo: ident.Info})
	if err != nil {
		// An unserializable identity shouldn't fail the whole signin.
		data = []byte("{}")
	}

	// Fixed wire contract with the transport and client libraries.
	toSign := socketID + "::user::" + string(data)

	return &UserAuthResponse{
		Auth:     b.appID + ":" + Sign(b.secret, []byte(toSign)),
		UserData: string(data),
	}, nil
}

// Broadcast delivers an event to the given channels, best-effort. It
// prefers the batched publish (one transport call regardless of channel
// count) and falls back to per-channel calls when batching is unavailable
// or fails. Failures are absorbed, never returned: broadcast is real-time
// delivery, not a durable guarantee.
func (b *Broadcaster) Broadcast(ctx context.Context, channels []string, event string, payload map[string]interface{}) {
	if len(channels) == 0 {
		return
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("broadcast: dropping unserializable payload",
			zap.String("event", event), zap.Error(err))
		b.count("dropped")
		return
	}

	valid := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch != "" {
			valid = append(valid, ch)
		}
	}

	if b.multi != nil && len(valid) > 0 {
		channelsJSON, _ := json.Marshal(valid)
		err := b.multi.PublishMulti(ctx, b.appID, channelsJSON, event, payloadJSON)
		if err == nil {
			b.count("multi")
			return
		}
		b.log.Warn("broadcast: batched publish failed, falling back per-channel",
			zap.String("event", event), zap.Error(err))
	}

	if b.single == nil {
		b.count("dropped")
		return
	}

	for _, ch := range valid {
		if ch == "" || event == "" {
			continue
		}
		if err := b.single.Publish(ctx, b.appID, ch, event, payloadJSON); err != nil {
			b.log.Warn("broadcast: publish failed",
				zap.String("channel", ch), zap.String("event", event), zap.Error(err))
		}
	}
	b.count("single")
}

func (b *Broadcaster) count(path string) {
	if b.stats != nil {
		b.stats.IncBroadcast(path)
	}
}

// stringifyID renders a scalar identifier as a string, matching how the
// transport renders member ids.
func stringifyID(v interface{}) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case json.Number:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	}
	return "", false
}
