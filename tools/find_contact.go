package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// FindContactEmailHandler creates a handler that looks a name up in the
// tenant's contacts.
func FindContactEmailHandler(creds CredentialResolver, dir ContactDirectory) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		name, _ := args["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return mcp.NewToolResultError("name is required"), nil
		}

		cred, errResult := tenantCredential(ctx, creds)
		if errResult != nil {
			return errResult, nil
		}

		email, err := dir.Resolve(ctx, cred.Token, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to search contacts: %v", err)), nil
		}
		if email == "" {
			return mcp.NewToolResultError(fmt.Sprintf("❌ 주소록에서 '%s'님을 찾을 수 없습니다.", name)), nil
		}

		return jsonResult(map[string]interface{}{
			"name":    name,
			"email":   email,
			"message": fmt.Sprintf("✅ '%s'님의 이메일: %s", name, email),
		})
	}
}
