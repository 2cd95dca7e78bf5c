// Package report turns correlated reply messages into the status digest
// mailed to the report recipient. Everything here is pure.
package report

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSnippetLength is the body rune limit used by Compose.
	DefaultSnippetLength = 100

	// NoReplies is the whole body of a report when nothing was found.
	NoReplies = "아직 도착한 답장이 없습니다. 조금 더 기다려봐야겠네요."

	// Footer ends every report.
	Footer = "\n(이 메일은 메일 비서가 자동으로 작성했습니다.)"

	ellipsis = "..."
)

// Message is a reply read from the mailbox. It is never persisted.
type Message struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// Composer builds report bodies.
type Composer struct {
	// SnippetLength is the rune limit for each message body.
	// Zero or negative uses DefaultSnippetLength.
	SnippetLength int
}

// Compose renders messages into a report body.
func (c Composer) Compose(messages []Message) string {
	limit := c.SnippetLength
	if limit <= 0 {
		limit = DefaultSnippetLength
	}

	var b strings.Builder
	if len(messages) == 0 {
		b.WriteString(NoReplies)
	} else {
		fmt.Fprintf(&b, "총 %d통의 답장이 왔습니다.\n\n", len(messages))
		for _, m := range messages {
			fmt.Fprintf(&b, "👤 %s:\n%s\n\n", m.Sender, Truncate(m.Body, limit))
		}
	}
	b.WriteString(Footer)
	return b.String()
}

// Compose renders messages with the default snippet length.
func Compose(messages []Message) string {
	return Composer{}.Compose(messages)
}

// Subject returns the subject line of the report mail for a group.
func Subject(group string) string {
	return fmt.Sprintf("[중간보고] %s 약속 진행 상황", group)
}

// Truncate cuts s to at most limit runes and appends "..." when anything
// was removed. Strings at or under the limit are returned unchanged.
func Truncate(s string, limit int) string {
	if limit < 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}
