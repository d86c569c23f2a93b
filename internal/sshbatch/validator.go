package sshbatch

import (
	"fmt"
	"regexp"
	"strings"
)

// denyPatterns blocks shell constructs commonly used to smuggle a second
// command or exfiltrate data: a static deny-list combining regexes and
// a set of disallowed leading verbs.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\(`),     // command substitution
	regexp.MustCompile("`"),        // backtick substitution
	regexp.MustCompile(`>\s*/dev`), // redirect into a device node
}

var denyVerbs = map[string]bool{
	"mkfs":     true,
	"dd":       true,
	"shutdown": true,
	"reboot":   true,
}

// DenyListValidator is the default CommandValidator: a static deny-list of
// shell metacharacters and dangerous verbs. The engine does not prescribe
// this policy — callers are free to supply their own CommandValidator.
type DenyListValidator struct{}

func (DenyListValidator) Validate(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return fmt.Errorf("command rejected: empty command")
	}

	for _, pat := range denyPatterns {
		if pat.MatchString(trimmed) {
			return fmt.Errorf("command rejected: matches disallowed pattern %q", pat.String())
		}
	}

	firstWord := strings.Fields(trimmed)[0]
	if denyVerbs[firstWord] {
		return fmt.Errorf("command rejected: verb %q not in allowed actions", firstWord)
	}

	return nil
}

// AllowAllValidator accepts every command. Useful when skip_validation is
// effectively always desired, or in tests.
type AllowAllValidator struct{}

func (AllowAllValidator) Validate(string) error { return nil }
