package util

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	reSpaces   = regexp.MustCompile(`\s+`)
	reMultiGap = regexp.MustCompile(`\s{2,}|\t`)
)

// NormalizeText case-folds and collapses whitespace so two spellings of the
// same product text compare equal.
func NormalizeText(input string) string {
	s := norm.NFKC.String(input)
	s = cases.Fold().String(s)
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(strings.ReplaceAll(input, "\u00a0", " "), " "))
}

// CompactCode uppercases and drops everything that is not a letter or digit.
func CompactCode(input string) string {
	s := strings.ToUpper(norm.NFKC.String(input))
	out := strings.Builder{}
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func IsAlphanumeric(input string) bool {
	if input == "" {
		return false
	}
	for _, r := range input {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// SplitColumns breaks a text line into cells on tabs or runs of two or more spaces.
func SplitColumns(line string) []string {
	parts := reMultiGap.Split(strings.TrimSpace(line), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func StringPtr(v string) *string {
	return &v
}
