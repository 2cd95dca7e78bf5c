package tools

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	maxBodySize     = 10 * 1024 * 1024 // 10 MB
	maxSubjectSize  = 998              // RFC 2822 line length limit
	maxKeywordSize  = 200
	maxDelayMinutes = 60 * 24 * 30
	maxRecipients   = 50
)

// validateSubjectKeyword rejects search fragments that cannot be sent as an
// IMAP quoted string.
func validateSubjectKeyword(keyword string) error {
	if strings.TrimSpace(keyword) == "" {
		return fmt.Errorf("subject keyword must not be empty")
	}
	if len(keyword) > maxKeywordSize {
		return fmt.Errorf("subject keyword exceeds maximum length of %d characters", maxKeywordSize)
	}

	// Reject newlines and control characters
	for _, r := range keyword {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("subject keyword must not contain control characters")
		}
	}

	return nil
}

// validateJobID checks that a job id is a UUID.
func validateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("job_id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("job_id must be a UUID")
	}
	return nil
}

// validateDelayMinutes bounds report delays to a positive number of minutes.
func validateDelayMinutes(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("InvalidSchedule: delay_minutes must be positive, got %d", minutes)
	}
	if minutes > maxDelayMinutes {
		return fmt.Errorf("InvalidSchedule: delay_minutes must be at most %d", maxDelayMinutes)
	}
	return nil
}

// validateBodySize checks that body content doesn't exceed limits.
func validateBodySize(body string) error {
	if len(body) > maxBodySize {
		return fmt.Errorf("body exceeds maximum size of %d bytes", maxBodySize)
	}
	return nil
}

// validateSubjectSize checks that subject doesn't exceed limits.
func validateSubjectSize(subject string) error {
	if len(subject) > maxSubjectSize {
		return fmt.Errorf("subject exceeds maximum length of %d characters", maxSubjectSize)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("subject must not contain line breaks")
	}
	return nil
}
