package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rgabriel/mcp-mail-tracker/smtp"
	"github.com/rgabriel/mcp-mail-tracker/tracker"
)

const defaultReportDelayMinutes = 60

// SendEmailHandler creates a handler that resolves recipient names through
// the directory, sends the message, and optionally schedules a reply report
// for the same subject. sched may be nil when tracking is unavailable.
func SendEmailHandler(creds CredentialResolver, dir ContactDirectory, sender MailSender, sched ReportScheduler) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		// Get required parameters
		rawNames, _ := args["recipient_names"].(string)
		names := splitList(rawNames)
		if len(names) == 0 {
			return mcp.NewToolResultError("recipient_names is required"), nil
		}
		if len(names) > maxRecipients {
			return mcp.NewToolResultError(fmt.Sprintf("recipient_names must list at most %d recipients", maxRecipients)), nil
		}

		subject, ok := args["subject"].(string)
		if !ok || subject == "" {
			return mcp.NewToolResultError("subject is required"), nil
		}
		if err := validateSubjectSize(subject); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		body, ok := args["body"].(string)
		if !ok || body == "" {
			return mcp.NewToolResultError("body is required"), nil
		}
		if err := validateBodySize(body); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		// Build send options
		opts := smtp.SendOptions{}
		var err error
		opts.CC, err = parseAddressList(args, "cc")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts.BCC, err = parseAddressList(args, "bcc")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if html, ok := args["html"].(bool); ok {
			opts.HTML = html
		}

		// Tracking parameters are checked before anything is sent
		track, _ := args["track_replies"].(bool)
		delay := intArg(args, "report_delay_minutes", defaultReportDelayMinutes)
		groupName, _ := args["group_name"].(string)
		if track {
			if sched == nil {
				return mcp.NewToolResultError("reply tracking is not available on this server"), nil
			}
			if err := validateDelayMinutes(delay); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}

		cred, errResult := tenantCredential(ctx, creds)
		if errResult != nil {
			return errResult, nil
		}

		// Resolve names to addresses
		var to, unresolved []string
		for _, name := range names {
			addr, err := dir.Resolve(ctx, cred.Token, name)
			if err != nil {
				slog.WarnContext(ctx, "contact lookup failed", "name", name, "error", err)
			}
			if addr == "" {
				unresolved = append(unresolved, name)
				continue
			}
			to = append(to, addr)
		}
		if len(to) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("❌ 발송 실패: 입력한 이름(%s)의 이메일을 찾을 수 없습니다.", strings.Join(unresolved, ", "))), nil
		}

		if err := sender.Send(ctx, cred, to, subject, body, opts); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("SendFailed: failed to send email: %v", err)), nil
		}

		msg := fmt.Sprintf("📤 %d명(%s)에게 메일을 보냈습니다.", len(to), strings.Join(to, ", "))
		if len(unresolved) > 0 {
			msg += fmt.Sprintf("\n(⚠️ 찾지 못한 사람: %s)", strings.Join(unresolved, ", "))
		}

		// Format response
		response := map[string]interface{}{
			"success":    true,
			"message":    msg,
			"subject":    subject,
			"recipients": to,
		}
		if len(unresolved) > 0 {
			response["unresolved"] = unresolved
		}

		if track {
			// The mail is already out; a scheduling failure is reported, not returned as an error.
			conf, err := sched.EnqueueReport(ctx, tracker.EnqueueRequest{
				TenantID:  TenantFromContext(ctx),
				FireIn:    time.Duration(delay) * time.Minute,
				Subject:   subject,
				Recipient: cred.Email,
				GroupName: groupName,
			})
			if err != nil {
				response["tracking_error"] = err.Error()
			} else {
				response["report"] = conf
			}
		}

		return jsonResult(response)
	}
}
