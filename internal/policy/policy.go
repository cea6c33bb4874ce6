// Package policy implements channel access rules declared in the app
// config. Rules are matched against normalized channel names, so the same
// rule guards private- and presence- variants of a channel.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/pogo-ws/bridge/internal/broadcast"
)

// RuleConfig is one access rule from the config.
type RuleConfig struct {
	// Pattern is a glob matched against the normalized channel name,
	// eg. "orders.*" or "chat-?".
	Pattern string `koanf:"pattern"`

	// OwnerOnly restricts the channel to the user named by its last
	// dot-separated segment, eg. "user.42" is joinable only by user 42.
	OwnerOnly bool `koanf:"owner_only"`

	// MemberInfo lists identity attributes exposed to other members on
	// presence channels. The user id is always included.
	MemberInfo []string `koanf:"member_info"`
}

type rule struct {
	g          glob.Glob
	ownerOnly  bool
	memberInfo []string
}

// Policy evaluates access rules. Read-only after construction.
type Policy struct {
	rules []rule
	log   *zap.Logger
}

// New compiles the configured rules into a Policy.
func New(rules []RuleConfig, log *zap.Logger) (*Policy, error) {
	out := &Policy{log: log}
	for _, rc := range rules {
		g, err := glob.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("error compiling channel pattern %q: %w", rc.Pattern, err)
		}
		out.rules = append(out.rules, rule{
			g:          g,
			ownerOnly:  rc.OwnerOnly,
			memberInfo: rc.MemberInfo,
		})
	}
	return out, nil
}

// VerifyAccess implements broadcast.AccessVerifier. The first rule whose
// pattern matches the channel decides; an unauthenticated identity or an
// unmatched channel is denied.
func (p *Policy) VerifyAccess(_ context.Context, ident *broadcast.Identity, channel string) (broadcast.MemberData, error) {
	if ident == nil {
		return nil, broadcast.ErrAccessDenied
	}

	for _, r := range p.rules {
		if !r.g.Match(channel) {
			continue
		}

		if r.ownerOnly && ownerSegment(channel) != ident.ID {
			p.log.Debug("channel access denied: not owner",
				zap.String("channel", channel), zap.String("user", ident.ID))
			return nil, broadcast.ErrAccessDenied
		}

		member := broadcast.MemberData{"id": ident.ID}
		for _, k := range r.memberInfo {
			if v, ok := ident.Info[k]; ok {
				member[k] = v
			}
		}
		return member, nil
	}

	return nil, broadcast.ErrAccessDenied
}

func ownerSegment(channel string) string {
	i := strings.LastIndex(channel, ".")
	return channel[i+1:]
}
