package guard

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// InputValidationStage rejects empty, oversized or malformed text.
type InputValidationStage struct {
	order     int
	maxLength int
}

// NewInputValidationStage creates the stage. maxLength counts runes; zero
// disables the length check.
func NewInputValidationStage(order, maxLength int) *InputValidationStage {
	return &InputValidationStage{order: order, maxLength: maxLength}
}

func (s *InputValidationStage) Name() string  { return "InputValidation" }
func (s *InputValidationStage) Order() int    { return s.order }
func (s *InputValidationStage) Enabled() bool { return true }

func (s *InputValidationStage) Check(_ context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Text) == "" {
		return reject(InvalidInput, "input is empty"), nil
	}
	if !utf8.ValidString(cmd.Text) {
		return reject(InvalidInput, "input is not valid UTF-8"), nil
	}
	if s.maxLength > 0 {
		if n := utf8.RuneCountInString(cmd.Text); n > s.maxLength {
			return reject(InvalidInput, fmt.Sprintf("input too long: %d characters exceeds limit of %d", n, s.maxLength)), nil
		}
	}
	for _, r := range cmd.Text {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return reject(InvalidInput, fmt.Sprintf("input contains control character %U", r)), nil
		}
	}
	return Allowed{}, nil
}
