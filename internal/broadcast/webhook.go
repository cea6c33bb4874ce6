package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Lifecycle event names the transport reports over webhooks.
const (
	EventChannelOccupied = "channel_occupied"
	EventChannelVacated  = "channel_vacated"
)

// ErrSignatureMismatch indicates that a webhook body was not signed with
// the shared secret. The body must not be processed.
var ErrSignatureMismatch = errors.New("webhook signature mismatch")

// WebhookEvent is one entry from a transport callback batch. Names other
// than the lifecycle constants pass through literally for informational
// handling.
type WebhookEvent struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
}

type webhookPayload struct {
	TimeMs int64          `json:"time_ms"`
	Events []WebhookEvent `json:"events"`
}

// VerifyWebhook authenticates a transport-originated callback and returns
// its event batch. The signature is checked over the exact raw body,
// before any parsing: re-serialized JSON is not guaranteed byte-identical.
func VerifyWebhook(secret, rawBody []byte, signature string) ([]WebhookEvent, error) {
	if !SignatureValid(secret, rawBody, signature) {
		return nil, ErrSignatureMismatch
	}

	var p webhookPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, fmt.Errorf("error parsing webhook body: %w", err)
	}
	return p.Events, nil
}
