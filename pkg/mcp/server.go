package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/store"
	"github.com/rendis/pineapple/internal/streaming"
)

// Engine is the part of the core the server drives. Satisfied by *engine.Core.
type Engine interface {
	ExecuteOperation(operation, environment, module string) (*execution.Info, error)
	CancelOperation(info *execution.Info) error
	Results() *execution.Repository
}

// Scheduler manages scheduled operations. Satisfied by *scheduler.Scheduler.
type Scheduler interface {
	Create(ctx context.Context, name, module, operation, environment, description, cron string) (*store.ScheduledOperation, error)
	Delete(ctx context.Context, name string) error
	DeleteAll(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]*store.ScheduledOperation, error)
}

// ModuleCatalog lists modules and their environments. Satisfied by
// *modules.Repository.
type ModuleCatalog interface {
	List() ([]string, error)
	Environments(module string) ([]string, error)
}

// ServerDeps holds the dependencies for creating a Server. Only Engine is
// required; tools whose dependency is missing report an error.
type ServerDeps struct {
	Engine    Engine
	Scheduler Scheduler
	Modules   ModuleCatalog
	Store     store.Store
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server wraps an MCP server with pineapple tool handlers.
type Server struct {
	engine    Engine
	scheduler Scheduler
	modules   ModuleCatalog
	store     store.Store
	hub       streaming.EventHub
	sessions  *SessionRegistry
	notifier  *CompletionNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:    deps.Engine,
		scheduler: deps.Scheduler,
		modules:   deps.Modules,
		store:     deps.Store,
		hub:       deps.Hub,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"pineapple",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Pineapple runs operations (deploy, test, undeploy, ...) on modules in named environments. "+
			"Use pineapple.execute to start an operation, pineapple.status to follow its result tree, pineapple.cancel to stop it, "+
			"pineapple.history to list past executions, pineapple.schedule to manage cron-scheduled operations and "+
			"pineapple.modules to discover modules and environments."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewCompletionNotifier(mcpSrv, s.sessions, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Completion notifications are pushed while serving if a hub is set.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		if err := s.notifier.Start(ctx, s.hub); err != nil {
			return err
		}
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the execution to session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: modulesTool(), Handler: s.handleModules},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("pineapple.execute",
		mcp.WithDescription("Execute an operation on a module in an environment"),
		mcp.WithString("module", mcp.Required(), mcp.Description("Module id")),
		mcp.WithString("environment", mcp.Required(), mcp.Description("Environment name")),
		mcp.WithString("operation", mcp.Required(), mcp.Description("Operation name, e.g. deploy or test")),
		mcp.WithNumber("wait_seconds", mcp.Description("Wait up to this many seconds for completion (default: 0, return immediately)")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("pineapple.cancel",
		mcp.WithDescription("Cancel a running execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("pineapple.status",
		mcp.WithDescription("Get the result tree of an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("pineapple.history",
		mcp.WithDescription("List past and running executions"),
		mcp.WithString("source",
			mcp.Enum("memory", "archive"),
			mcp.Description("memory lists executions kept by the running core, archive lists persisted executions (default: memory)"),
		),
		mcp.WithString("module", mcp.Description("Filter by module")),
		mcp.WithString("environment", mcp.Description("Filter by environment")),
		mcp.WithString("operation", mcp.Description("Filter by operation")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of executions (default: 20)")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("pineapple.schedule",
		mcp.WithDescription("Manage cron-scheduled operations"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "create", "delete", "delete_all"),
			mcp.Description("Action to perform"),
		),
		mcp.WithString("name", mcp.Description("Scheduled operation name (create, delete)")),
		mcp.WithString("module", mcp.Description("Module id (create)")),
		mcp.WithString("environment", mcp.Description("Environment name (create)")),
		mcp.WithString("operation", mcp.Description("Operation name (create)")),
		mcp.WithString("cron", mcp.Description("Five field cron expression (create)")),
		mcp.WithString("description", mcp.Description("Free text description (create)")),
	)
}

func modulesTool() mcp.Tool {
	return mcp.NewTool("pineapple.modules",
		mcp.WithDescription("List modules, or the environments of one module"),
		mcp.WithString("module", mcp.Description("List the environments of this module")),
	)
}
