package parser

import (
	"regexp"
	"strings"
)

// Extractor finds verification codes in message text
type Extractor struct {
	stages []*regexp.Regexp
}

// NewExtractor creates a new code extractor.
//
// Stage order is a precision/recall tradeoff: label-anchored patterns first,
// then a bare 6-digit token, then a bare 4-digit token. The first stage that
// matches wins, and within a stage the first occurrence wins.
func NewExtractor() *Extractor {
	return &Extractor{
		stages: []*regexp.Regexp{
			regexp.MustCompile(`(?i)code[^0-9]*(\d{4,8})\b`),
			regexp.MustCompile(`(?i)2fa[^0-9]*(\d{4,8})\b`),
			regexp.MustCompile(`(?i)verification[^0-9]*(\d{4,8})\b`),
			regexp.MustCompile(`\b(\d{6})\b`),
			regexp.MustCompile(`\b(\d{4})\b`),
		},
	}
}

// Extract returns the verification code found in the combined body and subject
// text, or false when no stage matches. The function is pure: persistence and
// read-marking are the caller's concern.
func (e *Extractor) Extract(body, subject string) (string, bool) {
	text := body + " " + subject

	for _, stage := range e.stages {
		match := stage.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		// First matching stage wins outright
		code := digitsOnly(match[1])
		if len(code) >= 4 && len(code) <= 8 {
			return code, true
		}
		return "", false
	}

	return "", false
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
