package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyWebhook(t *testing.T) {
	secret := []byte("super-secret-key")
	body := []byte(`{"time_ms":1700000000000,"events":[` +
		`{"name":"channel_occupied","channel":"presence-chat"},` +
		`{"name":"channel_vacated","channel":"orders"},` +
		`{"name":"member_added","channel":"presence-chat"}]}`)

	events, err := VerifyWebhook(secret, body, Sign(secret, body))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, WebhookEvent{Name: EventChannelOccupied, Channel: "presence-chat"}, events[0])
	assert.Equal(t, WebhookEvent{Name: EventChannelVacated, Channel: "orders"}, events[1])
	// Unknown names pass through literally.
	assert.Equal(t, "member_added", events[2].Name)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	secret := []byte("super-secret-key")
	body := []byte(`{"events":[]}`)

	_, err := VerifyWebhook(secret, body, "deadbeef")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// A signature under a different secret is just as invalid.
	_, err = VerifyWebhook(secret, body, Sign([]byte("other"), body))
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyWebhookRejectsTamperedBody(t *testing.T) {
	secret := []byte("s")
	body := []byte(`{"events":[{"name":"channel_occupied","channel":"a"}]}`)
	sig := Sign(secret, body)

	tampered := []byte(`{"events":[{"name":"channel_occupied","channel":"b"}]}`)
	_, err := VerifyWebhook(secret, tampered, sig)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyWebhookMalformedBody(t *testing.T) {
	secret := []byte("s")
	body := []byte(`not-json`)

	_, err := VerifyWebhook(secret, body, Sign(secret, body))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSignatureMismatch)
}
