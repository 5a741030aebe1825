package rules

import (
	"github.com/jrsteele09/go-openpims/resolver"
)

// Builder turns a resolved tagging value into the rules for each configured channel.
type Builder struct {
	Channels      []Channel
	IDSpace       int
	BaseUserAgent string
}

// NewBuilder returns a builder for channels; no channels means User-Agent only.
func NewBuilder(channels []Channel, idSpace int, baseUserAgent string) *Builder {
	if len(channels) == 0 {
		channels = []Channel{ChannelUserAgent}
	}
	if idSpace <= 0 {
		idSpace = DefaultIDSpace
	}
	return &Builder{Channels: channels, IDSpace: idSpace, BaseUserAgent: baseUserAgent}
}

// IDs returns the rule ids for domain across the builder's channels.
func (b *Builder) IDs(domain string) []int {
	ids := make([]int, 0, len(b.Channels))
	for _, c := range b.Channels {
		ids = append(ids, RuleID(domain, c, b.IDSpace))
	}
	return ids
}

// Build creates one rule per channel, all carrying the same resolution.
func (b *Builder) Build(tv resolver.TaggingValue) []Rule {
	out := make([]Rule, 0, len(b.Channels))
	for _, c := range b.Channels {
		out = append(out, Rule{
			ID:       RuleID(tv.Domain, c, b.IDSpace),
			Priority: 1,
			Domain:   tv.Domain,
			Channel:  c,
			Day:      tv.Day,
			Action:   b.action(c, tv),
			Condition: Condition{
				URLFilter:     DomainFilter(tv.Domain),
				ResourceTypes: AllResourceTypes,
			},
		})
	}
	return out
}

func (b *Builder) action(c Channel, tv resolver.TaggingValue) HeaderAction {
	switch c {
	case ChannelCookie:
		return HeaderAction{Header: "Cookie", Operation: OperationAppend, Value: tv.CookiePair()}
	case ChannelCustomHeader:
		return HeaderAction{Header: resolver.HeaderName, Operation: OperationSet, Value: tv.Value}
	default:
		return HeaderAction{Header: "User-Agent", Operation: OperationSet, Value: tv.UserAgent(b.BaseUserAgent)}
	}
}
