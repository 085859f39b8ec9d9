// Package safety classifies proposed commands as allowed, requiring user
// confirmation, or blocked. The filter is purely advisory: it never executes
// anything, holds no mutable state, and is safe for concurrent use after
// construction.
package safety

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Decision is the outcome of classifying a proposed command.
type Decision string

const (
	// DecisionAllowed means the command may execute without further checks.
	DecisionAllowed Decision = "allowed"
	// DecisionRequiresConfirmation means a user must approve the command first.
	DecisionRequiresConfirmation Decision = "requires_confirmation"
	// DecisionBlocked means the command must not execute.
	DecisionBlocked Decision = "blocked"
)

// Classification is the filter's verdict for one command.
type Classification struct {
	Decision Decision
	Reason   string
	// Pattern is the matched rule's pattern text, for audit output.
	Pattern string
}

// Filter evaluates commands against an ordered list of blocking rules and a
// secondary confirmation rule set. First blocking match wins.
type Filter struct {
	blocking []blockRule
	confirm  []confirmRule
}

type blockRule struct {
	re      *regexp.Regexp
	pattern string
	reason  string
}

type confirmRule struct {
	matcher glob.Glob
	pattern string
	reason  string
}

// Option configures a Filter.
type Option func(*builder)

type builder struct {
	extraBlocking [][2]string // pattern, reason
	extraConfirm  [][2]string
}

// WithBlockingPattern appends an additional blocking rule. The pattern is a
// regular expression matched against the normalized command.
func WithBlockingPattern(pattern, reason string) Option {
	return func(b *builder) {
		b.extraBlocking = append(b.extraBlocking, [2]string{pattern, reason})
	}
}

// WithConfirmPattern appends an additional confirmation rule. The pattern is
// a glob matched against the normalized command.
func WithConfirmPattern(pattern, reason string) Option {
	return func(b *builder) {
		b.extraConfirm = append(b.extraConfirm, [2]string{pattern, reason})
	}
}

// NewFilter builds a filter with the default rule tables plus any options.
// The returned filter is immutable.
func NewFilter(opts ...Option) (*Filter, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	f := &Filter{}
	for _, d := range defaultBlockingRules {
		re, err := regexp.Compile(d.pattern)
		if err != nil {
			return nil, err
		}
		f.blocking = append(f.blocking, blockRule{re: re, pattern: d.pattern, reason: d.reason})
	}
	for _, extra := range b.extraBlocking {
		re, err := regexp.Compile(extra[0])
		if err != nil {
			return nil, err
		}
		f.blocking = append(f.blocking, blockRule{re: re, pattern: extra[0], reason: extra[1]})
	}

	for _, d := range defaultConfirmRules {
		g, err := glob.Compile(d.pattern)
		if err != nil {
			return nil, err
		}
		f.confirm = append(f.confirm, confirmRule{matcher: g, pattern: d.pattern, reason: d.reason})
	}
	for _, extra := range b.extraConfirm {
		g, err := glob.Compile(extra[0])
		if err != nil {
			return nil, err
		}
		f.confirm = append(f.confirm, confirmRule{matcher: g, pattern: extra[0], reason: extra[1]})
	}

	return f, nil
}

// Classify evaluates a proposed command. Blocking rules are evaluated in
// order and the first match wins; confirmation rules are checked next;
// anything else is allowed. Malformed input classifies conservatively as
// requires_confirmation.
func (f *Filter) Classify(commandText string) Classification {
	normalized, ok := normalize(commandText)
	if !ok {
		return Classification{
			Decision: DecisionRequiresConfirmation,
			Reason:   "command text is malformed and could not be safely evaluated",
		}
	}
	if normalized == "" {
		return Classification{Decision: DecisionAllowed, Reason: "empty command"}
	}

	for _, rule := range f.blocking {
		if rule.re.MatchString(normalized) {
			return Classification{
				Decision: DecisionBlocked,
				Reason:   rule.reason,
				Pattern:  rule.pattern,
			}
		}
	}

	for _, rule := range f.confirm {
		if rule.matcher.Match(normalized) {
			return Classification{
				Decision: DecisionRequiresConfirmation,
				Reason:   rule.reason,
				Pattern:  rule.pattern,
			}
		}
	}

	return Classification{Decision: DecisionAllowed}
}

// normalize lowercases the command and collapses runs of whitespace so
// pattern tables match regardless of spacing or case. Returns ok=false for
// input containing control characters other than tab and newline, which
// suggests an attempt to smuggle content past the pattern tables.
func normalize(command string) (string, bool) {
	for _, r := range command {
		if r < 0x20 && r != '\t' && r != '\n' {
			return "", false
		}
		if r == 0x7f {
			return "", false
		}
	}
	fields := strings.Fields(strings.ToLower(command))
	return strings.Join(fields, " "), true
}
