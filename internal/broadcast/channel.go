package broadcast

import "strings"

// Channel name prefixes following the Pusher wire conventions.
const (
	PrefixPrivate  = "private-"
	PrefixPresence = "presence-"
)

// ChannelType is the access class of a channel, derived from its name.
type ChannelType int

const (
	// ChannelPublic requires no authorization to join.
	ChannelPublic ChannelType = iota

	// ChannelPrivate requires authorization; the response carries only
	// an auth token.
	ChannelPrivate

	// ChannelPresence is a private channel that additionally carries
	// public member identity.
	ChannelPresence
)

func (t ChannelType) String() string {
	switch t {
	case ChannelPrivate:
		return "private"
	case ChannelPresence:
		return "presence"
	}
	return "public"
}

// Classify derives the channel type from the full channel name.
func Classify(name string) ChannelType {
	if strings.HasPrefix(name, PrefixPresence) {
		return ChannelPresence
	}
	if strings.HasPrefix(name, PrefixPrivate) {
		return ChannelPrivate
	}
	return ChannelPublic
}

// Normalize strips the channel-type prefix from a channel name. The
// normalized name is what access verifiers see, so their rules stay
// channel-type-agnostic.
func Normalize(name string) string {
	if strings.HasPrefix(name, PrefixPresence) {
		return strings.TrimPrefix(name, PrefixPresence)
	}
	return strings.TrimPrefix(name, PrefixPrivate)
}
