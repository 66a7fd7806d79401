package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/adaptd/internal/auth"
	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/memory"
	"github.com/fyrsmithlabs/adaptd/internal/orchestrator"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
	"github.com/fyrsmithlabs/adaptd/internal/tracking"
)

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "adaptd").
	Name string

	// Version is the server version (default: "0.1.0").
	Version string

	// Logger for structured logging.
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "adaptd",
		Version: "0.1.0",
		Logger:  logging.NewNop(),
	}
}

// Server is the MCP server wiring tools to the internal packages.
type Server struct {
	mcp           *mcp.Server
	orchestrator  *orchestrator.Orchestrator
	store         *memory.Store
	tracker       *tracking.Tracker
	registry      *pipeline.Registry
	authenticator auth.Authenticator
	metrics       *Metrics
	logger        *logging.Logger
}

// NewServer creates the MCP server with all tool dependencies.
func NewServer(
	cfg *Config,
	orch *orchestrator.Orchestrator,
	store *memory.Store,
	tracker *tracking.Tracker,
	registry *pipeline.Registry,
	authenticator auth.Authenticator,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("pipeline registry is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:           mcpServer,
		orchestrator:  orch,
		store:         store,
		tracker:       tracker,
		registry:      registry,
		authenticator: authenticator,
		metrics:       NewMetrics(cfg.Logger),
		logger:        cfg.Logger.Named("mcp"),
	}

	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.registerOrchestrationTools()
	s.registerMemoryTools()
	s.registerTrackingTools()
}

// Run serves MCP on the stdio transport until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// track starts instrumentation for one tool call and returns the finisher.
func (s *Server) track(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
	}
}

// authenticate resolves the caller's user ID. The bool reports success;
// failures are surfaced to the client as a renderable result, never as a
// protocol error.
func (s *Server) authenticate(apiKey string) (string, bool) {
	userID, err := s.authenticator.Authenticate(apiKey)
	if err != nil {
		return "", false
	}
	return userID, true
}

const authRequiredMessage = "requires authentication"

func authFailureResult() *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: authRequiredMessage},
		},
	}
}
