package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rgabriel/mcp-mail-tracker/tools"
)

func makeRequest(toolName string) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: toolName,
		},
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Run("handler completes in time", func(t *testing.T) {
		mw := timeoutMiddleware(1 * time.Second)

		handler := mw(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		})

		result, err := handler(context.Background(), makeRequest("test_tool"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil {
			t.Fatal("expected non-nil result")
		}
	})

	t.Run("handler exceeds timeout", func(t *testing.T) {
		mw := timeoutMiddleware(10 * time.Millisecond)

		handler := mw(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(1 * time.Second):
				return &mcp.CallToolResult{}, nil
			}
		})

		_, err := handler(context.Background(), makeRequest("slow_tool"))
		if err == nil {
			t.Fatal("expected timeout error")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got: %v", err)
		}
	})

	t.Run("pre-canceled context", func(t *testing.T) {
		mw := timeoutMiddleware(1 * time.Second)

		handler := mw(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				return &mcp.CallToolResult{}, nil
			}
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := handler(ctx, makeRequest("test_tool"))
		// With pre-canceled context, the timeout middleware creates a new deadline.
		// The inner handler may or may not see the cancellation depending on timing.
		// Either outcome is acceptable.
		_ = err
	})
}

func TestLoggingMiddleware(t *testing.T) {
	t.Run("successful result", func(t *testing.T) {
		mw := loggingMiddleware()

		handler := mw(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		})

		result, err := handler(context.Background(), makeRequest("test_tool"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil {
			t.Fatal("expected non-nil result")
		}
	})

	t.Run("handler error", func(t *testing.T) {
		mw := loggingMiddleware()

		handler := mw(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, errors.New("handler failed")
		})

		_, err := handler(context.Background(), makeRequest("failing_tool"))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("result with IsError", func(t *testing.T) {
		mw := loggingMiddleware()

		handler := mw(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{IsError: true}, nil
		})

		result, err := handler(context.Background(), makeRequest("error_tool"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected IsError=true")
		}
	})

	t.Run("nil result", func(t *testing.T) {
		mw := loggingMiddleware()

		handler := mw(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, nil
		})

		result, err := handler(context.Background(), makeRequest("nil_tool"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Error("expected nil result")
		}
	})
}

func TestComposedMiddleware(t *testing.T) {
	t.Run("timeout inside logging", func(t *testing.T) {
		// Match real registration order: logging wraps timeout wraps handler
		logging := loggingMiddleware()
		timeout := timeoutMiddleware(100 * time.Millisecond)

		handler := logging(timeout(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		}))

		result, err := handler(context.Background(), makeRequest("composed_tool"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil {
			t.Fatal("expected non-nil result")
		}
	})

	t.Run("composed timeout triggers", func(t *testing.T) {
		logging := loggingMiddleware()
		timeout := timeoutMiddleware(10 * time.Millisecond)

		handler := logging(timeout(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(1 * time.Second):
				return &mcp.CallToolResult{}, nil
			}
		}))

		_, err := handler(context.Background(), makeRequest("slow_composed"))
		if err == nil {
			t.Fatal("expected timeout error")
		}
	})
}

// chain wraps handler the way the MCP server applies registered middlewares.
func chain(mws []server.ToolHandlerMiddleware, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}
	return handler
}

func TestToolMiddlewares(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	var (
		tenant      string
		hasDeadline bool
	)
	handler := chain(toolMiddlewares(time.Second, "me"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenant = tools.TenantFromContext(ctx)
		_, hasDeadline = ctx.Deadline()
		return &mcp.CallToolResult{}, nil
	})

	if _, err := handler(context.Background(), makeRequest("list_status_reports")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant != "me" {
		t.Errorf("tenant = %q, want %q", tenant, "me")
	}
	if !hasDeadline {
		t.Error("expected handler context to carry a deadline")
	}
	if !strings.Contains(buf.String(), `"tenant_id":"me"`) {
		t.Errorf("log line missing default tenant: %s", buf.String())
	}
}

func TestTenantMiddleware(t *testing.T) {
	capture := func(got *string) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			*got = tools.TenantFromContext(ctx)
			return &mcp.CallToolResult{}, nil
		}
	}

	t.Run("fills default", func(t *testing.T) {
		var got string
		handler := tenantMiddleware("me")(capture(&got))
		if _, err := handler(context.Background(), makeRequest("test_tool")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "me" {
			t.Errorf("tenant = %q, want %q", got, "me")
		}
	})

	t.Run("keeps transport tenant", func(t *testing.T) {
		var got string
		handler := tenantMiddleware("me")(capture(&got))
		ctx := tools.WithTenant(context.Background(), "alice")
		if _, err := handler(ctx, makeRequest("test_tool")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "alice" {
			t.Errorf("tenant = %q, want %q", got, "alice")
		}
	})

	t.Run("no default", func(t *testing.T) {
		var got string
		handler := tenantMiddleware("")(capture(&got))
		if _, err := handler(context.Background(), makeRequest("test_tool")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("tenant = %q, want empty", got)
		}
	})
}

func TestTenantFromHeader(t *testing.T) {
	fn := tenantFromHeader("X-User-ID")

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.Header.Set("X-User-ID", "bob")
	if got := tools.TenantFromContext(fn(context.Background(), r)); got != "bob" {
		t.Errorf("tenant = %q, want %q", got, "bob")
	}

	r = httptest.NewRequest("POST", "/mcp", nil)
	if got := tools.TenantFromContext(fn(context.Background(), r)); got != "" {
		t.Errorf("tenant = %q, want empty", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
