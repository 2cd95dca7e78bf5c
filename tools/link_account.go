package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rgabriel/mcp-mail-tracker/credential"
)

// LinkAccountHandler creates a handler that starts the OAuth consent flow
// and returns the URL the user must open.
func LinkAccountHandler(linker AccountLinker) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID := TenantFromContext(ctx)
		if tenantID == "" {
			return mcp.NewToolResultError("no tenant associated with this request"), nil
		}

		authURL, err := linker.Begin(ctx, tenantID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to start account linking: %v", err)), nil
		}

		return jsonResult(map[string]interface{}{
			"authorization_url": authURL,
			"message":           "Open the authorization URL, approve access, then call complete_account_link with the code shown on the redirect page.",
		})
	}
}

// CompleteAccountLinkHandler creates a handler that exchanges the
// authorization code and stores the resulting credential.
func CompleteAccountLinkHandler(linker AccountLinker) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		code, _ := args["code"].(string)
		code = strings.TrimSpace(code)
		if code == "" {
			return mcp.NewToolResultError("code is required"), nil
		}
		state, _ := args["state"].(string)

		tenantID := TenantFromContext(ctx)
		if tenantID == "" {
			return mcp.NewToolResultError("no tenant associated with this request"), nil
		}

		cred, err := linker.Complete(ctx, tenantID, code, strings.TrimSpace(state))
		if errors.Is(err, credential.ErrFlowNotFound) {
			return mcp.NewToolResultError("no pending account link (it may have expired); run link_account again"), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to complete account linking: %v", err)), nil
		}

		return jsonResult(map[string]interface{}{
			"success": true,
			"email":   cred.Email,
			"scopes":  cred.Scopes,
			"message": fmt.Sprintf("Account %s linked", cred.Email),
		})
	}
}
