package toolpolicy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a YAML tool policy document.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool policy file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates YAML tool policy data.
func LoadBytes(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing tool policy YAML: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects documents with blank entries, which would otherwise be
// silently dropped when the policy is compiled.
func Validate(p *Policy) error {
	if p == nil {
		return fmt.Errorf("tool policy is nil")
	}
	check := func(field string, values []string) error {
		for i, v := range values {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%s[%d]: value is blank", field, i)
			}
		}
		return nil
	}
	if err := check("write_tool_names", p.WriteToolNames); err != nil {
		return err
	}
	if err := check("deny_write_channels", p.DenyWriteChannels); err != nil {
		return err
	}
	if err := check("allow_write_tool_names_in_deny_channels", p.AllowWriteToolNamesInDenyChannels); err != nil {
		return err
	}
	for ch, tools := range p.AllowWriteToolNamesByChannel {
		if NormalizeChannel(ch) == "" {
			return fmt.Errorf("allow_write_tool_names_by_channel: channel key is blank")
		}
		if err := check("allow_write_tool_names_by_channel."+ch, tools); err != nil {
			return err
		}
	}
	return nil
}
