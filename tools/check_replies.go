package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rgabriel/mcp-mail-tracker/report"
)

const previewLength = 200

type replyPreview struct {
	Sender  string `json:"sender"`
	Preview string `json:"preview"`
}

// CheckRepliesHandler creates a handler that runs the correlation search
// immediately and returns short previews.
func CheckRepliesHandler(creds CredentialResolver, searcher ReplySearcher) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		keyword, _ := args["subject_keyword"].(string)
		if err := validateSubjectKeyword(keyword); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		cred, errResult := tenantCredential(ctx, creds)
		if errResult != nil {
			return errResult, nil
		}

		msgs, err := searcher.Search(ctx, cred, keyword)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("SearchFailed: failed to search replies: %v", err)), nil
		}

		replies := make([]replyPreview, 0, len(msgs))
		for _, m := range msgs {
			replies = append(replies, replyPreview{
				Sender:  m.Sender,
				Preview: report.Truncate(m.Body, previewLength),
			})
		}

		msg := "📭 아직 도착한 답장이 없습니다."
		if len(replies) > 0 {
			msg = fmt.Sprintf("🔍 총 %d개의 답장을 발견했습니다.", len(replies))
		}

		return jsonResult(map[string]interface{}{
			"count":           len(replies),
			"subject_keyword": keyword,
			"replies":         replies,
			"message":         msg,
		})
	}
}
