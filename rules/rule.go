package rules

import (
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
)

// Channel is the delivery mechanism for the tagging value.
type Channel int

const (
	ChannelUserAgent    Channel = iota // Overwrite User-Agent with the OpenPIMS suffix appended
	ChannelCookie                      // Append x-openpims=<value> to the Cookie header
	ChannelCustomHeader                // Set X-OpenPIMS: <value>
)

// Channels lists every channel in id-offset order.
var Channels = []Channel{ChannelUserAgent, ChannelCookie, ChannelCustomHeader}

func (c Channel) String() string {
	switch c {
	case ChannelUserAgent:
		return "user-agent"
	case ChannelCookie:
		return "cookie"
	case ChannelCustomHeader:
		return "header"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel accepts the config names "user-agent", "cookie" and "header".
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user-agent", "useragent", "ua":
		return ChannelUserAgent, nil
	case "cookie":
		return ChannelCookie, nil
	case "header", "custom", "x-openpims":
		return ChannelCustomHeader, nil
	default:
		return 0, errors.Errorf("[ParseChannel] unknown channel %q", s)
	}
}

// ParseChannels parses a list of channel names, dropping duplicates.
func ParseChannels(names []string) ([]Channel, error) {
	seen := map[Channel]bool{}
	var channels []Channel
	for _, n := range names {
		c, err := ParseChannel(n)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			channels = append(channels, c)
		}
	}
	return channels, nil
}

// Operation is the header modification a rule performs.
type Operation string

const (
	OperationSet    Operation = "set"
	OperationAppend Operation = "append"
)

// ResourceType mirrors the request kinds a rule condition applies to.
type ResourceType string

const (
	ResourceMainFrame      ResourceType = "main_frame"
	ResourceSubFrame       ResourceType = "sub_frame"
	ResourceXMLHTTPRequest ResourceType = "xmlhttprequest"
	ResourceScript         ResourceType = "script"
	ResourceStylesheet     ResourceType = "stylesheet"
	ResourceImage          ResourceType = "image"
	ResourceFont           ResourceType = "font"
	ResourceMedia          ResourceType = "media"
	ResourceOther          ResourceType = "other"
)

// AllResourceTypes is the resource type list every tagging rule matches.
var AllResourceTypes = []ResourceType{
	ResourceMainFrame, ResourceXMLHTTPRequest, ResourceSubFrame, ResourceScript,
	ResourceStylesheet, ResourceImage, ResourceFont, ResourceMedia, ResourceOther,
}

// HeaderAction is a single request header modification.
type HeaderAction struct {
	Header    string    `json:"header"`
	Operation Operation `json:"operation"`
	Value     string    `json:"value"`
}

// Condition limits a rule to one domain.
type Condition struct {
	URLFilter     string         `json:"urlFilter"`
	ResourceTypes []ResourceType `json:"resourceTypes"`
}

// Rule is one entry in the external rule store. Exactly one rule exists per
// (domain, channel); its ID is a pure function of both.
type Rule struct {
	ID        int          `json:"id"`
	Priority  int          `json:"priority"`
	Domain    string       `json:"-"`
	Channel   Channel      `json:"-"`
	Day       int64        `json:"-"`
	Action    HeaderAction `json:"action"`
	Condition Condition    `json:"condition"`
}

// Validate checks the fields a rule store requires.
func (r Rule) Validate() error {
	if r.ID <= 0 {
		return errors.Wrapf(apperrors.ErrInvalidRule, "rule id %d must be positive", r.ID)
	}
	if r.Action.Header == "" || r.Action.Value == "" {
		return errors.Wrapf(apperrors.ErrInvalidRule, "rule %d has no header action", r.ID)
	}
	if r.Condition.URLFilter == "" {
		return errors.Wrapf(apperrors.ErrInvalidRule, "rule %d has no url filter", r.ID)
	}
	return nil
}

// DomainFilter is the url filter restricting a rule to domain.
func DomainFilter(domain string) string {
	return fmt.Sprintf("*://%s/*", domain)
}
