package toolpolicy

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// DefaultDenyWriteMessage is used when a policy leaves DenyWriteMessage blank.
const DefaultDenyWriteMessage = "write tools are not permitted on this channel"

// Policy is the singleton tool execution policy document.
type Policy struct {
	Enabled                           bool                `yaml:"enabled" json:"enabled"`
	WriteToolNames                    []string            `yaml:"write_tool_names" json:"write_tool_names"`
	DenyWriteChannels                 []string            `yaml:"deny_write_channels" json:"deny_write_channels"`
	AllowWriteToolNamesInDenyChannels []string            `yaml:"allow_write_tool_names_in_deny_channels" json:"allow_write_tool_names_in_deny_channels"`
	AllowWriteToolNamesByChannel      map[string][]string `yaml:"allow_write_tool_names_by_channel" json:"allow_write_tool_names_by_channel"`
	DenyWriteMessage                  string              `yaml:"deny_write_message" json:"deny_write_message"`
	CreatedAt                         time.Time           `yaml:"-" json:"created_at"`
	UpdatedAt                         time.Time           `yaml:"-" json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	c := *p
	c.WriteToolNames = slices.Clone(p.WriteToolNames)
	c.DenyWriteChannels = slices.Clone(p.DenyWriteChannels)
	c.AllowWriteToolNamesInDenyChannels = slices.Clone(p.AllowWriteToolNamesInDenyChannels)
	if p.AllowWriteToolNamesByChannel != nil {
		c.AllowWriteToolNamesByChannel = make(map[string][]string, len(p.AllowWriteToolNamesByChannel))
		for ch, tools := range p.AllowWriteToolNamesByChannel {
			c.AllowWriteToolNamesByChannel[ch] = slices.Clone(tools)
		}
	}
	return &c
}

// Decision is the outcome of a tool policy evaluation: Allow or Deny.
type Decision interface {
	isDecision()
}

// Allow permits the tool call.
type Allow struct{}

// Deny blocks the tool call with a reason taken from the policy.
type Deny struct {
	Reason string
}

func (Allow) isDecision() {}
func (Deny) isDecision()  {}

// Allowed reports whether d permits the call.
func Allowed(d Decision) bool {
	switch d.(type) {
	case Allow:
		return true
	case Deny:
		return false
	default:
		panic("toolpolicy: unknown decision type")
	}
}

// NormalizeChannel trims and lowercases a channel name.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

type set map[string]struct{}

func newSet(values []string, normalize func(string) string) set {
	s := make(set, len(values))
	for _, v := range values {
		if normalize != nil {
			v = normalize(v)
		}
		if v == "" {
			continue
		}
		s[v] = struct{}{}
	}
	return s
}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

// compiled is the lookup form of a Policy used on the hot path.
type compiled struct {
	enabled      bool
	write        set
	denyChannels set
	exempt       set
	byChannel    map[string]set
	message      string
}

func compile(p *Policy) *compiled {
	if p == nil {
		return &compiled{}
	}
	c := &compiled{
		enabled:      p.Enabled,
		write:        newSet(p.WriteToolNames, nil),
		denyChannels: newSet(p.DenyWriteChannels, NormalizeChannel),
		exempt:       newSet(p.AllowWriteToolNamesInDenyChannels, nil),
		byChannel:    make(map[string]set, len(p.AllowWriteToolNamesByChannel)),
		message:      p.DenyWriteMessage,
	}
	for _, ch := range slices.Sorted(maps.Keys(p.AllowWriteToolNamesByChannel)) {
		key := NormalizeChannel(ch)
		tools := newSet(p.AllowWriteToolNamesByChannel[ch], nil)
		if existing, ok := c.byChannel[key]; ok {
			maps.Copy(existing, tools)
			continue
		}
		c.byChannel[key] = tools
	}
	if c.message == "" {
		c.message = DefaultDenyWriteMessage
	}
	return c
}

func (c *compiled) isWriteTool(tool string) bool {
	return c.enabled && c.write.has(tool)
}

func (c *compiled) evaluate(channel, tool string) Decision {
	if !c.enabled || len(c.write) == 0 {
		return Allow{}
	}
	ch := NormalizeChannel(channel)
	if ch == "" {
		return Allow{}
	}
	if !c.denyChannels.has(ch) {
		return Allow{}
	}
	if !c.write.has(tool) {
		return Allow{}
	}
	if c.exempt.has(tool) {
		return Allow{}
	}
	if c.byChannel[ch].has(tool) {
		return Allow{}
	}
	return Deny{Reason: c.message}
}
