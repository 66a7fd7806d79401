package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/orchestrator"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
)

// ===== ORCHESTRATION TOOLS =====

type orchestrateInput struct {
	APIKey          string            `json:"api_key" jsonschema:"required,Caller API key"`
	PromptID        string            `json:"prompt_id" jsonschema:"required,Prompt template identifier"`
	Input           string            `json:"input" jsonschema:"required,Current user input"`
	SessionID       string            `json:"session_id,omitempty" jsonschema:"Session identifier"`
	Pipeline        string            `json:"pipeline,omitempty" jsonschema:"Pipeline name (default: default)"`
	RequiredContext []string          `json:"required_context,omitempty" jsonschema:"Context sources the caller insists on"`
	Preferences     map[string]string `json:"preferences,omitempty" jsonschema:"Caller preference overrides"`
}

type orchestrateMetadata struct {
	ProcessingTimeMs    int64                     `json:"processing_time_ms" jsonschema:"Adaptation processing time"`
	ContextSources      int                       `json:"context_sources" jsonschema:"Number of context sources read"`
	Pipeline            string                    `json:"pipeline" jsonschema:"Pipeline that ran"`
	OrchestrationTimeMs int64                     `json:"orchestration_time_ms" jsonschema:"Total orchestration wall time"`
	StagesExecuted      int                       `json:"stages_executed" jsonschema:"Stages that ran to completion"`
	State               string                    `json:"state" jsonschema:"Terminal orchestration state"`
	Warnings            []string                  `json:"warnings,omitempty" jsonschema:"Degradation notes"`
	Errors              []orchestrator.StageError `json:"errors,omitempty" jsonschema:"Stage failures in execution order"`
}

type orchestrateOutput struct {
	Success           bool                `json:"success" jsonschema:"Whether orchestration fully succeeded"`
	Message           string              `json:"message,omitempty" jsonschema:"Failure explanation"`
	AdaptedContent    string              `json:"adapted_content,omitempty" jsonschema:"Personalized content"`
	ContextUsed       []string            `json:"context_used,omitempty" jsonschema:"Context sources actually consulted"`
	AdaptationApplied []string            `json:"adaptation_applied,omitempty" jsonschema:"Rule identifiers applied"`
	Personalizations  map[string]string   `json:"personalizations,omitempty" jsonschema:"Personalization key/values"`
	ExperimentVariant string              `json:"experiment_variant,omitempty" jsonschema:"Assigned experiment variant"`
	Effectiveness     float64             `json:"effectiveness,omitempty" jsonschema:"Bounded adaptation quality score"`
	Metadata          orchestrateMetadata `json:"metadata" jsonschema:"Orchestration metadata"`
	SessionID         string              `json:"session_id,omitempty" jsonschema:"Echoed session identifier"`
	Timestamp         string              `json:"timestamp" jsonschema:"Completion time, RFC 3339"`
}

type pipelinesInput struct {
	Action       string `json:"action" jsonschema:"required,Either list or get"`
	PipelineName string `json:"pipeline_name,omitempty" jsonschema:"Pipeline name, required for get"`
}

type pipelinesOutput struct {
	Pipelines []pipeline.Summary `json:"pipelines,omitempty" jsonschema:"Summaries for action list"`
	Pipeline  *pipeline.Config   `json:"pipeline,omitempty" jsonschema:"Full config for action get"`
}

type stateInput struct {
	APIKey         string `json:"api_key" jsonschema:"required,Caller API key"`
	SessionID      string `json:"session_id,omitempty" jsonschema:"Session identifier"`
	IncludeHistory bool   `json:"include_history,omitempty" jsonschema:"Include orchestration history"`
	HistoryLimit   int    `json:"history_limit,omitempty" jsonschema:"Maximum history entries"`
}

type stateOutput struct {
	Success   bool                        `json:"success" jsonschema:"Whether the query succeeded"`
	Message   string                      `json:"message,omitempty" jsonschema:"Failure explanation"`
	SessionID string                      `json:"session_id,omitempty" jsonschema:"Session identifier"`
	History   []orchestrator.HistoryEntry `json:"history,omitempty" jsonschema:"Recent orchestrations, newest last"`
}

func (s *Server) registerOrchestrationTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "orchestrate_context",
		Description: "Run a context pipeline: retrieve the user's memories, assign an experiment variant, and adapt the prompt template",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args orchestrateInput) (*mcp.CallToolResult, orchestrateOutput, error) {
		finish := s.track(ctx, "orchestrate_context")
		var toolErr error
		defer func() { finish(toolErr) }()

		userID, ok := s.authenticate(args.APIKey)
		if !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), orchestrateOutput{Success: false, Message: authRequiredMessage}, nil
		}
		ctx = logging.ContextWithUserID(ctx, userID)
		if args.SessionID != "" {
			ctx = logging.ContextWithSessionID(ctx, args.SessionID)
		}

		pipelineName := args.Pipeline
		if pipelineName == "" {
			pipelineName = "default"
		}

		res := s.orchestrator.Orchestrate(ctx, &orchestrator.Request{
			PromptID:        args.PromptID,
			UserID:          userID,
			CurrentInput:    args.Input,
			SessionID:       args.SessionID,
			RequiredContext: args.RequiredContext,
			Preferences:     args.Preferences,
		}, pipelineName)

		out := orchestrateOutput{
			Success:   res.Success,
			SessionID: args.SessionID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Metadata: orchestrateMetadata{
				Pipeline:            res.Pipeline,
				OrchestrationTimeMs: res.TotalTime.Milliseconds(),
				StagesExecuted:      res.StagesExecuted,
				State:               string(res.State),
				Errors:              res.Errors,
			},
		}
		if !res.Success && len(res.Errors) > 0 {
			out.Message = fmt.Sprintf("%s stage failed: %s", res.Errors[0].Stage, res.Errors[0].Message)
		}
		if res.Result != nil {
			out.AdaptedContent = res.Result.AdaptedContent
			out.ContextUsed = res.Result.ContextUsed
			out.AdaptationApplied = res.Result.AdaptationApplied
			out.Personalizations = res.Result.Personalizations
			out.ExperimentVariant = res.Result.ExperimentVariant
			out.Effectiveness = res.Result.Effectiveness
			out.Metadata.ProcessingTimeMs = res.Result.Metadata.ProcessingTime.Milliseconds()
			out.Metadata.ContextSources = res.Result.Metadata.ContextSources
			out.Metadata.Warnings = res.Result.Metadata.Warnings
		}

		text := out.AdaptedContent
		if text == "" {
			text = out.Message
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "context_pipelines",
		Description: "List available pipelines or fetch one pipeline's full configuration",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelinesInput) (*mcp.CallToolResult, pipelinesOutput, error) {
		finish := s.track(ctx, "context_pipelines")
		var toolErr error
		defer func() { finish(toolErr) }()

		switch args.Action {
		case "list":
			out := pipelinesOutput{Pipelines: s.registry.List()}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d pipelines", len(out.Pipelines))}},
			}, out, nil

		case "get":
			cfg, err := s.registry.Get(args.PipelineName)
			if err != nil {
				toolErr = err
				return nil, pipelinesOutput{}, fmt.Errorf("unknown pipeline %q", args.PipelineName)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: cfg.Name}},
			}, pipelinesOutput{Pipeline: &cfg}, nil

		default:
			toolErr = fmt.Errorf("invalid action")
			return nil, pipelinesOutput{}, fmt.Errorf("action must be list or get, got %q", args.Action)
		}
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "context_state",
		Description: "Query session state and recent orchestration history",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args stateInput) (*mcp.CallToolResult, stateOutput, error) {
		finish := s.track(ctx, "context_state")
		var toolErr error
		defer func() { finish(toolErr) }()

		userID, ok := s.authenticate(args.APIKey)
		if !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), stateOutput{Success: false, Message: authRequiredMessage}, nil
		}

		out := stateOutput{Success: true, SessionID: args.SessionID}
		if args.IncludeHistory && args.SessionID != "" {
			out.History = s.orchestrator.SessionHistory(args.SessionID, args.HistoryLimit)
		}

		s.logger.Debug(ctx, "state query",
			zap.String("user_id", userID),
			zap.String("session_id", args.SessionID),
			zap.Int("history_entries", len(out.History)))

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("session %s: %d history entries", args.SessionID, len(out.History))}},
		}, out, nil
	})
}
