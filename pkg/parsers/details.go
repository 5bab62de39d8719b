// pkg/parsers/details.go

package parsers

import "strings"

// MailAuthFailures summarises grepped exim/dovecot auth-failure lines
type MailAuthFailures struct {
	Count    int    `json:"failures"`
	LastLine string `json:"last_line,omitempty"`
}

// ParseMailAuthFailures counts the non-blank lines of a mail log grep
func ParseMailAuthFailures(text string) MailAuthFailures {
	lines := NonEmptyLines(text)
	if len(lines) == 0 {
		return MailAuthFailures{}
	}
	return MailAuthFailures{Count: len(lines), LastLine: lines[len(lines)-1]}
}

// NonEmptyLines splits text into trimmed, non-blank lines
func NonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
