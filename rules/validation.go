package rules

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxIdentifierLength = 100
	maxExpressionLength = 4096
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// ValidateRule checks the rule's metadata before it is compiled or stored.
// Expression syntax is checked by CompileRule.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	if err := validateIdentifier(r.ID); err != nil {
		return fmt.Errorf("invalid rule id %q: %w", r.ID, err)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule %s: name cannot be empty", r.ID)
	}
	if strings.TrimSpace(r.Expression) == "" {
		return fmt.Errorf("rule %s: expression cannot be empty", r.ID)
	}
	if len(r.Expression) > maxExpressionLength {
		return fmt.Errorf("rule %s: expression length %d exceeds maximum of %d", r.ID, len(r.Expression), maxExpressionLength)
	}
	if err := validateIdentifier(r.Outcome); err != nil {
		return fmt.Errorf("rule %s: invalid outcome %q: %w", r.ID, r.Outcome, err)
	}
	if r.Priority < 0 {
		return fmt.Errorf("rule %s: priority must be non-negative, got %d", r.ID, r.Priority)
	}
	return nil
}

// validateIdentifier checks length, character set and reserved words.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s", identifierPattern.String())
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

// isReservedKeyword reports whether name is a CEL reserved word.
func isReservedKeyword(name string) bool {
	switch name {
	case "true", "false", "null",
		"if", "else", "for", "while", "break", "continue", "return",
		"var", "let", "const", "function",
		"in", "as", "import", "package", "namespace", "loop", "void":
		return true
	}
	return false
}
