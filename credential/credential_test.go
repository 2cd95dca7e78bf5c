package credential

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredential_LogValueRedactsTokens(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cred := sampleCredential("alice")
	logger.Info("resolved", "credential", cred)

	out := buf.String()
	assert.NotContains(t, out, "access-alice")
	assert.NotContains(t, out, "refresh-alice")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, `"has_refresh_token":true`)
}

func TestCredential_Helpers(t *testing.T) {
	var nilCred *Credential
	assert.Equal(t, "", nilCred.AccessToken())
	assert.False(t, nilCred.HasRefreshToken())

	cred := sampleCredential("bob")
	assert.Equal(t, "access-bob", cred.AccessToken())
	assert.True(t, cred.HasRefreshToken())

	cred.Token.RefreshToken = ""
	assert.False(t, cred.HasRefreshToken())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "unusable", Unusable.String())
}
