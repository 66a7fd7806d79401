package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/adaptd/internal/tracking"
)

// ===== USAGE, FEEDBACK, AND A/B TEST TOOLS =====

type usageTrackInput struct {
	APIKey        string `json:"api_key" jsonschema:"required,Caller API key"`
	PromptID      string `json:"prompt_id" jsonschema:"required,Prompt identifier"`
	PromptVersion int    `json:"prompt_version" jsonschema:"required,Prompt version, positive"`
	Model         string `json:"model,omitempty" jsonschema:"Model that served the prompt"`
	InputTokens   int    `json:"input_tokens,omitempty" jsonschema:"Input token count"`
	OutputTokens  int    `json:"output_tokens,omitempty" jsonschema:"Output token count"`
	LatencyMs     int    `json:"latency_ms,omitempty" jsonschema:"End-to-end latency in milliseconds"`
}

type usageTrackOutput struct {
	Success bool   `json:"success" jsonschema:"Whether the record was stored"`
	Message string `json:"message,omitempty" jsonschema:"Failure explanation"`
	UsageID string `json:"usage_id,omitempty" jsonschema:"Assigned usage record ID"`
}

type feedbackInput struct {
	APIKey       string   `json:"api_key" jsonschema:"required,Caller API key"`
	UsageID      string   `json:"usage_id" jsonschema:"required,Usage record the feedback refers to"`
	Rating       int      `json:"rating" jsonschema:"required,Rating from 1 to 5"`
	FeedbackText string   `json:"feedback_text,omitempty" jsonschema:"Free-form feedback"`
	Categories   []string `json:"categories,omitempty" jsonschema:"Feedback categories"`
}

type feedbackOutput struct {
	Success bool   `json:"success" jsonschema:"Whether the feedback was stored"`
	Message string `json:"message,omitempty" jsonschema:"Failure explanation"`
}

type performanceInput struct {
	APIKey   string `json:"api_key" jsonschema:"required,Caller API key"`
	PromptID string `json:"prompt_id" jsonschema:"required,Prompt identifier"`
	Version  *int   `json:"version,omitempty" jsonschema:"Specific version; omit to aggregate all"`
}

type performanceOutput struct {
	Success     bool                  `json:"success" jsonschema:"Whether the query succeeded"`
	Message     string                `json:"message,omitempty" jsonschema:"Failure explanation"`
	Performance *tracking.Performance `json:"performance,omitempty" jsonschema:"Aggregated usage and rating signals"`
}

type reportInput struct {
	APIKey   string `json:"api_key" jsonschema:"required,Caller API key"`
	PromptID string `json:"prompt_id" jsonschema:"required,Prompt identifier"`
}

type reportOutput struct {
	Success bool             `json:"success" jsonschema:"Whether the query succeeded"`
	Message string           `json:"message,omitempty" jsonschema:"Failure explanation"`
	Report  *tracking.Report `json:"report,omitempty" jsonschema:"Per-version performance breakdown"`
}

type abTestCreateInput struct {
	APIKey      string `json:"api_key" jsonschema:"required,Caller API key"`
	Name        string `json:"name" jsonschema:"required,Test name"`
	PromptID    string `json:"prompt_id" jsonschema:"required,Prompt identifier"`
	VersionA    int    `json:"version_a" jsonschema:"required,First prompt version"`
	VersionB    int    `json:"version_b" jsonschema:"required,Second prompt version"`
	Metric      string `json:"metric" jsonschema:"required,One of rating latency tokens"`
	Description string `json:"description,omitempty" jsonschema:"Test description"`
	EndDate     string `json:"end_date,omitempty" jsonschema:"Optional end date, RFC 3339"`
}

type abTestCreateOutput struct {
	Success bool   `json:"success" jsonschema:"Whether the test was created"`
	Message string `json:"message,omitempty" jsonschema:"Failure explanation"`
	TestID  string `json:"test_id,omitempty" jsonschema:"Assigned test ID"`
}

type abTestResultsInput struct {
	APIKey string `json:"api_key" jsonschema:"required,Caller API key"`
	TestID string `json:"test_id" jsonschema:"required,Test identifier"`
}

type abTestResultsOutput struct {
	Success bool                    `json:"success" jsonschema:"Whether the query succeeded"`
	Message string                  `json:"message,omitempty" jsonschema:"Failure explanation"`
	Results *tracking.ABTestResults `json:"results,omitempty" jsonschema:"Per-variant aggregates and leading variant"`
}

func (s *Server) registerTrackingTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "usage_track",
		Description: "Record one prompt invocation for performance tracking",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args usageTrackInput) (*mcp.CallToolResult, usageTrackOutput, error) {
		finish := s.track(ctx, "usage_track")
		var toolErr error
		defer func() { finish(toolErr) }()

		if _, ok := s.authenticate(args.APIKey); !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), usageTrackOutput{Message: authRequiredMessage}, nil
		}

		usageID, err := s.tracker.TrackUsage(ctx, &tracking.UsageRecord{
			PromptID:      args.PromptID,
			PromptVersion: args.PromptVersion,
			Model:         args.Model,
			InputTokens:   args.InputTokens,
			OutputTokens:  args.OutputTokens,
			LatencyMs:     args.LatencyMs,
		})
		if err != nil {
			toolErr = err
			return nil, usageTrackOutput{}, fmt.Errorf("track usage: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Usage tracked: %s", usageID)}},
		}, usageTrackOutput{Success: true, UsageID: usageID}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "feedback_submit",
		Description: "Attach a 1..5 rating to a tracked usage record",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args feedbackInput) (*mcp.CallToolResult, feedbackOutput, error) {
		finish := s.track(ctx, "feedback_submit")
		var toolErr error
		defer func() { finish(toolErr) }()

		if _, ok := s.authenticate(args.APIKey); !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), feedbackOutput{Message: authRequiredMessage}, nil
		}

		err := s.tracker.SubmitFeedback(ctx, &tracking.Feedback{
			UsageID:      args.UsageID,
			Rating:       args.Rating,
			FeedbackText: args.FeedbackText,
			Categories:   args.Categories,
		})
		if err != nil {
			toolErr = err
			return nil, feedbackOutput{}, fmt.Errorf("submit feedback: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "Feedback recorded"}},
		}, feedbackOutput{Success: true}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "performance_get",
		Description: "Aggregate usage and rating signals for a prompt, optionally one version",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args performanceInput) (*mcp.CallToolResult, performanceOutput, error) {
		finish := s.track(ctx, "performance_get")
		var toolErr error
		defer func() { finish(toolErr) }()

		if _, ok := s.authenticate(args.APIKey); !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), performanceOutput{Message: authRequiredMessage}, nil
		}

		perf, err := s.tracker.GetPerformance(ctx, args.PromptID, args.Version)
		if err != nil {
			toolErr = err
			return nil, performanceOutput{}, fmt.Errorf("get performance: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d usages", perf.UsageCount)}},
		}, performanceOutput{Success: true, Performance: perf}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "performance_report",
		Description: "Generate a per-version performance report for a prompt",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args reportInput) (*mcp.CallToolResult, reportOutput, error) {
		finish := s.track(ctx, "performance_report")
		var toolErr error
		defer func() { finish(toolErr) }()

		if _, ok := s.authenticate(args.APIKey); !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), reportOutput{Message: authRequiredMessage}, nil
		}

		report, err := s.tracker.GeneratePerformanceReport(ctx, args.PromptID)
		if err != nil {
			toolErr = err
			return nil, reportOutput{}, fmt.Errorf("generate report: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d versions", len(report.Versions))}},
		}, reportOutput{Success: true, Report: report}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ab_test_create",
		Description: "Create an A/B test comparing two prompt versions by a metric",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args abTestCreateInput) (*mcp.CallToolResult, abTestCreateOutput, error) {
		finish := s.track(ctx, "ab_test_create")
		var toolErr error
		defer func() { finish(toolErr) }()

		if _, ok := s.authenticate(args.APIKey); !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), abTestCreateOutput{Message: authRequiredMessage}, nil
		}

		spec := &tracking.ABTestSpec{
			Name:        args.Name,
			PromptID:    args.PromptID,
			VersionA:    args.VersionA,
			VersionB:    args.VersionB,
			Metric:      tracking.Metric(args.Metric),
			Description: args.Description,
		}
		if args.EndDate != "" {
			t, err := time.Parse(time.RFC3339, args.EndDate)
			if err != nil {
				toolErr = err
				return nil, abTestCreateOutput{}, fmt.Errorf("invalid end_date: %w", err)
			}
			spec.EndDate = &t
		}

		testID, err := s.tracker.CreateABTest(ctx, spec)
		if err != nil {
			toolErr = err
			return nil, abTestCreateOutput{}, fmt.Errorf("create ab test: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Test created: %s", testID)}},
		}, abTestCreateOutput{Success: true, TestID: testID}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ab_test_results",
		Description: "Fetch per-variant aggregates and the leading variant for an A/B test",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args abTestResultsInput) (*mcp.CallToolResult, abTestResultsOutput, error) {
		finish := s.track(ctx, "ab_test_results")
		var toolErr error
		defer func() { finish(toolErr) }()

		if _, ok := s.authenticate(args.APIKey); !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), abTestResultsOutput{Message: authRequiredMessage}, nil
		}

		results, err := s.tracker.GetABTestResults(ctx, args.TestID)
		if err != nil {
			toolErr = err
			return nil, abTestResultsOutput{}, fmt.Errorf("get ab test results: %w", err)
		}

		leading := results.LeadingVariant
		if leading == "" {
			leading = "none"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("leading variant: %s", leading)}},
		}, abTestResultsOutput{Success: true, Results: results}, nil
	})
}
