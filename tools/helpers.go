package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rgabriel/mcp-mail-tracker/credential"
)

// parseAddressList extracts a string or []interface{} argument into a validated email address list.
// Returns a non-nil error if the value is present but invalid.
func parseAddressList(args map[string]interface{}, key string) ([]string, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return nil, nil
	}

	var raw []string
	switch v := val.(type) {
	case string:
		raw = splitList(v)
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
				raw = append(raw, strings.TrimSpace(str))
			}
		}
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", key)
	}

	// Validate each address
	for _, addr := range raw {
		if _, err := mail.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("invalid %s email address '%s': %v", key, addr, err)
		}
	}

	return raw, nil
}

// splitList splits a comma-separated argument, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// tenantCredential resolves the calling tenant's credential. A non-nil
// result is a user-facing error to return as is.
func tenantCredential(ctx context.Context, creds CredentialResolver) (*credential.Credential, *mcp.CallToolResult) {
	tenantID := TenantFromContext(ctx)
	if tenantID == "" {
		return nil, mcp.NewToolResultError("no tenant associated with this request")
	}
	res, err := creds.Resolve(ctx, tenantID)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to load credentials: %v", err))
	}
	switch res.State {
	case credential.Ready:
		return res.Credential, nil
	case credential.Unusable:
		return nil, mcp.NewToolResultError(fmt.Sprintf("CredentialUnusable: the linked account needs to be linked again (%v); run link_account", res.Err))
	default:
		return nil, mcp.NewToolResultError("CredentialAbsent: no linked account; run link_account first")
	}
}

// jsonResult formats a handler response like every other tool.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to format response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// intArg reads a JSON number argument, falling back to def when absent.
func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}
