package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rgabriel/mcp-mail-tracker/ledger"
	"github.com/rgabriel/mcp-mail-tracker/tracker"
)

const maxListLimit = 200

// ScheduleStatusReportHandler creates a handler that schedules a reply
// report without sending anything now.
func ScheduleStatusReportHandler(sched ReportScheduler) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		groupName, _ := args["group_name"].(string)
		groupName = strings.TrimSpace(groupName)
		if groupName == "" {
			return mcp.NewToolResultError("group_name is required"), nil
		}

		query, _ := args["subject_query"].(string)
		if err := validateSubjectKeyword(query); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		delay := intArg(args, "delay_minutes", defaultReportDelayMinutes)
		if err := validateDelayMinutes(delay); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		recipient, err := parseAddressList(args, "report_recipient")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(recipient) > 1 {
			return mcp.NewToolResultError("report_recipient must be a single address"), nil
		}

		tenantID := TenantFromContext(ctx)
		if tenantID == "" {
			return mcp.NewToolResultError("no tenant associated with this request"), nil
		}

		r := tracker.EnqueueRequest{
			TenantID:  tenantID,
			FireIn:    time.Duration(delay) * time.Minute,
			Subject:   query,
			GroupName: groupName,
		}
		if len(recipient) == 1 {
			r.Recipient = recipient[0]
		}

		conf, err := sched.EnqueueReport(ctx, r)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("⛔ 예약 중 오류 발생: %v", err)), nil
		}

		return jsonResult(map[string]interface{}{
			"success": true,
			"message": conf.Message,
			"job":     conf.Job,
		})
	}
}

// CancelStatusReportHandler creates a handler that cancels a pending report.
func CancelStatusReportHandler(sched ReportScheduler) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		jobID, _ := args["job_id"].(string)
		jobID = strings.TrimSpace(jobID)
		if err := validateJobID(jobID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		tenantID := TenantFromContext(ctx)
		if tenantID == "" {
			return mcp.NewToolResultError("no tenant associated with this request"), nil
		}

		job, err := sched.Cancel(ctx, tenantID, jobID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("no report job with id %s", jobID)), nil
		case errors.Is(err, ledger.ErrNotCancellable):
			return mcp.NewToolResultError(fmt.Sprintf("report job %s is %s and can no longer be cancelled", jobID, job.Status)), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("failed to cancel report: %v", err)), nil
		}

		return jsonResult(map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("Report job %s cancelled", jobID),
			"job":     job,
		})
	}
}

// ListStatusReportsHandler creates a handler that lists the tenant's report jobs.
func ListStatusReportsHandler(sched ReportScheduler) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		rawStatus, _ := args["status"].(string)
		status, err := ledger.ParseStatus(rawStatus)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		limit := intArg(args, "limit", 50)
		if limit < 1 {
			limit = 1
		}
		if limit > maxListLimit {
			limit = maxListLimit // Max limit
		}

		tenantID := TenantFromContext(ctx)
		if tenantID == "" {
			return mcp.NewToolResultError("no tenant associated with this request"), nil
		}

		jobs, err := sched.List(ctx, tenantID, status, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list reports: %v", err)), nil
		}
		if jobs == nil {
			jobs = []ledger.Job{}
		}

		response := map[string]interface{}{
			"count": len(jobs),
			"jobs":  jobs,
		}
		if status != "" {
			response["status"] = status
		}
		return jsonResult(response)
	}
}
