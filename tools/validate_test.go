package tools

import (
	"strings"
	"testing"
)

func TestValidateSubjectKeyword(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		wantErr bool
		errMsg  string
	}{
		{name: "plain", keyword: "[Trip Plan]"},
		{name: "korean", keyword: "동창회 날짜"},
		{name: "empty rejected", keyword: "", wantErr: true, errMsg: "empty"},
		{name: "blank rejected", keyword: "   ", wantErr: true, errMsg: "empty"},
		{name: "newline rejected", keyword: "a\r\nb", wantErr: true, errMsg: "control"},
		{name: "tab rejected", keyword: "a\tb", wantErr: true, errMsg: "control"},
		{name: "too long", keyword: strings.Repeat("x", maxKeywordSize+1), wantErr: true, errMsg: "maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSubjectKeyword(tt.keyword)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.errMsg != "" && !strings.Contains(strings.ToLower(err.Error()), tt.errMsg) {
					t.Errorf("error = %q, want containing %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateJobID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "uuid", id: "7f2c1f4e-4b7e-4d0a-9a54-1b2a3c4d5e6f"},
		{name: "empty", id: "", wantErr: true},
		{name: "not a uuid", id: "42", wantErr: true},
		{name: "injection", id: "'; DROP TABLE scheduled_jobs; --", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJobID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateJobID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDelayMinutes(t *testing.T) {
	tests := []struct {
		minutes int
		wantErr bool
	}{
		{1, false},
		{60, false},
		{maxDelayMinutes, false},
		{0, true},
		{-5, true},
		{maxDelayMinutes + 1, true},
	}

	for _, tt := range tests {
		err := validateDelayMinutes(tt.minutes)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateDelayMinutes(%d) error = %v, wantErr %v", tt.minutes, err, tt.wantErr)
		}
		if err != nil && !strings.HasPrefix(err.Error(), "InvalidSchedule") {
			t.Errorf("error = %q, want InvalidSchedule prefix", err.Error())
		}
	}
}

func TestValidateBodySize(t *testing.T) {
	if err := validateBodySize("short body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	large := strings.Repeat("x", maxBodySize+1)
	if err := validateBodySize(large); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestValidateSubjectSize(t *testing.T) {
	if err := validateSubjectSize("Normal subject"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	long := strings.Repeat("x", maxSubjectSize+1)
	if err := validateSubjectSize(long); err == nil {
		t.Fatal("expected error for oversized subject")
	}
	if err := validateSubjectSize("Bcc: victim@example.com\r\nSubject: hi"); err == nil {
		t.Fatal("expected error for header injection")
	}
}
