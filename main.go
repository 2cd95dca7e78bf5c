package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/rgabriel/mcp-mail-tracker/config"
	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/directory"
	"github.com/rgabriel/mcp-mail-tracker/gateway"
	"github.com/rgabriel/mcp-mail-tracker/imap"
	"github.com/rgabriel/mcp-mail-tracker/ledger"
	"github.com/rgabriel/mcp-mail-tracker/report"
	"github.com/rgabriel/mcp-mail-tracker/smtp"
	"github.com/rgabriel/mcp-mail-tracker/storage"
	"github.com/rgabriel/mcp-mail-tracker/tools"
	"github.com/rgabriel/mcp-mail-tracker/tracker"
)

// version is set at build time via ldflags
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logLevel := new(slog.LevelVar)
	logLevel.Set(parseLevel(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Set up signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app holds the wired components shared by the tools and the dispatcher.
type app struct {
	resolver   *credential.Resolver
	linker     *credential.Linker
	directory  *directory.Client
	gateway    *gateway.Gateway
	correlator *tracker.Correlator
	scheduler  *tracker.Scheduler
	dispatcher *tracker.Dispatcher
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer db.Close()

	store, err := newCredentialStore(cfg, db)
	if err != nil {
		return err
	}
	flows, closeFlows, err := newFlowStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFlows()

	a, err := wire(cfg, db, store, flows, logger)
	if err != nil {
		return err
	}

	s := newMCPServer(cfg, a)

	// Log startup
	slog.Info("server starting",
		"version", version,
		"strategy", string(cfg.Strategy),
		"transport", cfg.Transport,
		"db_driver", cfg.DB.Driver,
		"imap_server", cfg.IMAPAddr,
		"smtp_server", cfg.SMTPAddr,
		"scheduler_interval", cfg.Scheduler.Interval.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error { return serve(gctx, cfg, s) })
	if err := g.Wait(); err != nil && !errors.Is(err, errStdioClosed) {
		return err
	}
	return nil
}

// newCredentialStore picks the store backing the configured strategy.
func newCredentialStore(cfg *config.Config, db *sqlx.DB) (credential.Store, error) {
	switch cfg.Strategy {
	case config.StrategyEnvVar:
		return credential.NewMemoryStore(&credential.Credential{
			TenantID: cfg.DefaultTenant,
			Email:    cfg.Google.AccountEmail,
			Token: &oauth2.Token{
				TokenType:    "Bearer",
				RefreshToken: cfg.Google.RefreshToken,
			},
			Scopes: credential.Scopes,
		}), nil
	case config.StrategyProviderManaged:
		return credential.NewSQLStore(db), nil
	default:
		ring, err := credential.OpenKeyring(credential.KeyringConfig{
			FileDir:  cfg.KeyringDir,
			Password: cfg.KeyringPassword,
		})
		if err != nil {
			return nil, err
		}
		return credential.NewKeyringStore(ring), nil
	}
}

// newFlowStore returns the pending OAuth flow store: Redis when configured
// so every replica sees the same flows, process memory otherwise.
func newFlowStore(ctx context.Context, cfg *config.Config) (credential.FlowStore, func(), error) {
	if cfg.RedisAddr == "" {
		return credential.NewMemoryFlowStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return credential.NewRedisFlowStore(client), func() { _ = client.Close() }, nil
}

func wire(cfg *config.Config, db *sqlx.DB, store credential.Store, flows credential.FlowStore, logger *slog.Logger) (*app, error) {
	oauthCfg := credential.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	resolver := credential.NewResolver(store, oauthCfg, logger)
	dir := directory.NewClient(cfg.PeopleAPIURL)

	linker := credential.NewLinker(credential.LinkerOptions{
		OAuth:  oauthCfg,
		Flows:  flows,
		Store:  store,
		Lookup: dir,
		Logger: logger,
	})

	gw := gateway.New(imap.NewClient(cfg.IMAPAddr, logger), smtp.NewClient(cfg.SMTPAddr, cfg.SenderName))
	jobs := ledger.NewStore(db)

	sched, err := tracker.NewScheduler(tracker.SchedulerOptions{
		Ledger:            jobs,
		Credentials:       resolver,
		ValidateOnEnqueue: cfg.Scheduler.ValidateOnEnqueue,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	disp, err := tracker.NewDispatcher(tracker.DispatcherOptions{
		Ledger:      jobs,
		Credentials: resolver,
		Gateway:     gw,
		Composer:    report.Composer{SnippetLength: cfg.Scheduler.SnippetLength},
		SearchLimit: cfg.Scheduler.SearchLimit,
		Interval:    cfg.Scheduler.Interval,
		BatchSize:   cfg.Scheduler.BatchSize,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		StaleAfter:  cfg.Scheduler.StaleAfter,
		Retention:   cfg.Scheduler.Retention,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		resolver:   resolver,
		linker:     linker,
		directory:  dir,
		gateway:    gw,
		correlator: tracker.NewCorrelator(gw, cfg.Scheduler.SearchLimit),
		scheduler:  sched,
		dispatcher: disp,
	}, nil
}

// serve runs the MCP server on the configured transport until ctx ends.
func serve(ctx context.Context, cfg *config.Config, s *server.MCPServer) error {
	if cfg.Transport == config.TransportHTTP {
		return serveHTTP(ctx, cfg, s)
	}

	// Start the stdio server with cancellable context
	stdioServer := server.NewStdioServer(s)
	err := stdioServer.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	// The client closed stdin; stop the dispatcher too.
	return errStdioClosed
}

var errStdioClosed = errors.New("stdio closed")

func serveHTTP(ctx context.Context, cfg *config.Config, s *server.MCPServer) error {
	streamable := server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(tenantFromHeader(cfg.TenantHeader)),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

// tenantFromHeader copies the tenant header of each HTTP request into the
// tool call context.
func tenantFromHeader(header string) server.HTTPContextFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		if id := r.Header.Get(header); id != "" {
			return tools.WithTenant(ctx, id)
		}
		return ctx
	}
}

func newMCPServer(cfg *config.Config, a *app) *server.MCPServer {
	defaultTenant := cfg.DefaultTenant
	if cfg.Strategy == config.StrategyProviderManaged {
		// every caller must identify itself
		defaultTenant = ""
	}

	opts := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	}
	for _, mw := range toolMiddlewares(cfg.ToolTimeout, defaultTenant) {
		opts = append(opts, server.WithToolHandlerMiddleware(mw))
	}

	s := server.NewMCPServer("Mail Tracker", version, opts...)
	registerTools(s, a)
	return s
}

// toolMiddlewares returns the tool middlewares in registration order. The
// server wraps them in reverse, so the first one registered is outermost:
// tenant wraps logging wraps timeout wraps handler.
func toolMiddlewares(timeout time.Duration, defaultTenant string) []server.ToolHandlerMiddleware {
	return []server.ToolHandlerMiddleware{
		tenantMiddleware(defaultTenant),
		loggingMiddleware(),
		timeoutMiddleware(timeout),
	}
}

func registerTools(s *server.MCPServer, a *app) {
	// Register find_contact_email tool
	findContactTool := mcp.NewTool("find_contact_email",
		mcp.WithDescription("Look up a person's email address in the linked account's contacts by name. Returns the first address of the best match."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("name",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Name to search for (e.g. '김철수')."),
		),
	)
	s.AddTool(findContactTool, tools.FindContactEmailHandler(a.resolver, a.directory))

	// Register send_email tool
	sendEmailTool := mcp.NewTool("send_email",
		mcp.WithDescription("Send an email to people by name or address. Names are resolved through contacts; unresolved names are reported and skipped. Set track_replies=true to also schedule a reply report for this subject. Calling twice sends duplicate emails."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithString("recipient_names",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Comma-separated recipient names or email addresses (e.g. '김철수, 박영희')."),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Email subject line. Replies are later matched on this subject."),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Email body content. Plain text by default; set html=true for HTML."),
		),
		mcp.WithString("cc",
			mcp.Description("CC email address (string) or JSON array of addresses."),
		),
		mcp.WithString("bcc",
			mcp.Description("BCC email address (string) or JSON array of addresses."),
		),
		mcp.WithBoolean("html",
			mcp.Description("Set true if body contains HTML. A plain text version is auto-generated."),
			mcp.DefaultBool(false),
		),
		mcp.WithBoolean("track_replies",
			mcp.Description("Schedule a report summarizing replies to this subject."),
			mcp.DefaultBool(false),
		),
		mcp.WithNumber("report_delay_minutes",
			mcp.Description("Minutes until the reply report is sent. Only used with track_replies."),
			mcp.DefaultNumber(60),
			mcp.Min(1),
		),
		mcp.WithString("group_name",
			mcp.Description("Group name used in the report title. Defaults to the subject."),
		),
	)
	s.AddTool(sendEmailTool, tools.SendEmailHandler(a.resolver, a.directory, a.gateway, a.scheduler))

	// Register check_replies tool
	checkRepliesTool := mcp.NewTool("check_replies",
		mcp.WithDescription("Check the inbox now for replies whose subject contains the keyword. Returns sender and a short preview of each reply."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("subject_keyword",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Subject fragment to search for (e.g. '[A그룹]')."),
		),
	)
	s.AddTool(checkRepliesTool, tools.CheckRepliesHandler(a.resolver, a.correlator))

	// Register schedule_status_report tool
	scheduleTool := mcp.NewTool("schedule_status_report",
		mcp.WithDescription("Schedule a report that, after a delay, collects replies matching a subject and emails a summary. Returns the job id and the time it will run."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithString("group_name",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Group name used in the report title (e.g. '동창회 모임')."),
		),
		mcp.WithString("subject_query",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Subject fragment identifying the replies (e.g. '동창회 날짜')."),
		),
		mcp.WithNumber("delay_minutes",
			mcp.Description("Minutes from now until the report runs."),
			mcp.DefaultNumber(60),
			mcp.Min(1),
		),
		mcp.WithString("report_recipient",
			mcp.Description("Address to send the report to. Defaults to the linked account's own address."),
		),
	)
	s.AddTool(scheduleTool, tools.ScheduleStatusReportHandler(a.scheduler))

	// Register cancel_status_report tool
	cancelTool := mcp.NewTool("cancel_status_report",
		mcp.WithDescription("Cancel a scheduled report that has not run yet. Use list_status_reports to find job ids."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Job id from schedule_status_report or list_status_reports."),
		),
	)
	s.AddTool(cancelTool, tools.CancelStatusReportHandler(a.scheduler))

	// Register list_status_reports tool
	listTool := mcp.NewTool("list_status_reports",
		mcp.WithDescription("List your scheduled reports, soonest fire time first, with status and failure reason."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("status",
			mcp.Enum("pending", "running", "done", "failed", "cancelled"),
			mcp.Description("Only list reports in this status."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of reports to return."),
			mcp.DefaultNumber(50),
			mcp.Min(1),
			mcp.Max(200),
		),
	)
	s.AddTool(listTool, tools.ListStatusReportsHandler(a.scheduler))

	// Register link_account tool
	linkTool := mcp.NewTool("link_account",
		mcp.WithDescription("Start linking a Google account. Returns an authorization URL to open in a browser; then call complete_account_link with the code."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
	)
	s.AddTool(linkTool, tools.LinkAccountHandler(a.linker))

	// Register complete_account_link tool
	completeTool := mcp.NewTool("complete_account_link",
		mcp.WithDescription("Finish linking a Google account with the authorization code from the redirect page."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithString("code",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Authorization code shown after approving access."),
		),
		mcp.WithString("state",
			mcp.Description("State value from the redirect URL, if available."),
		),
	)
	s.AddTool(completeTool, tools.CompleteAccountLinkHandler(a.linker))
}

// tenantMiddleware fills in the default tenant when the transport did not
// supply one.
func tenantMiddleware(defaultTenant string) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if tools.TenantFromContext(ctx) == "" && defaultTenant != "" {
				ctx = tools.WithTenant(ctx, defaultTenant)
			}
			return next(ctx, req)
		}
	}
}

// timeoutMiddleware wraps each tool handler with a context deadline.
func timeoutMiddleware(timeout time.Duration) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// loggingMiddleware logs each tool call with a unique request ID, tool name, duration, and outcome.
func loggingMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			requestID := uuid.New().String()
			tool := req.Params.Name
			logger := slog.With("request_id", requestID, "tool", tool)
			if tenant := tools.TenantFromContext(ctx); tenant != "" {
				logger = logger.With("tenant_id", tenant)
			}

			logger.Debug("tool call started")
			start := time.Now()

			result, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logger.Error("tool call failed", "duration_ms", duration.Milliseconds(), "error", err)
			} else if result != nil && result.IsError {
				logger.Warn("tool call returned error", "duration_ms", duration.Milliseconds())
			} else {
				logger.Info("tool call completed", "duration_ms", duration.Milliseconds())
			}

			return result, err
		}
	}
}
