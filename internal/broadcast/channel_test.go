package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		want ChannelType
	}{
		{"orders", ChannelPublic},
		{"", ChannelPublic},
		{"private-orders", ChannelPrivate},
		{"presence-chat.1", ChannelPresence},
		{"privateers", ChannelPublic},
		{"presence-private-x", ChannelPresence},
		{"private-presence-x", ChannelPrivate},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.name), "channel %q", c.name)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"orders":           "orders",
		"private-orders":   "orders",
		"presence-chat.1":  "chat.1",
		"presence-private": "private",
		"":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "channel %q", in)
	}
}
