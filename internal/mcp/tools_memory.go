package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/adaptd/internal/memory"
)

// ===== MEMORY TOOLS =====
//
// Every memory tool is scoped to the authenticated caller; a user_id is never
// accepted from the client.

type memorySaveInput struct {
	APIKey          string          `json:"api_key" jsonschema:"required,Caller API key"`
	ID              string          `json:"id,omitempty" jsonschema:"Record ID for upsert; omit to create"`
	MemoryType      string          `json:"memory_type" jsonschema:"required,One of preference pattern knowledge interaction"`
	Title           string          `json:"title,omitempty" jsonschema:"Optional lookup label"`
	Content         json.RawMessage `json:"content" jsonschema:"required,Structured payload, shape defined by memory_type"`
	ImportanceScore float64         `json:"importance_score,omitempty" jsonschema:"Ranking signal in [0,1], default 0.5"`
	RelevanceTags   []string        `json:"relevance_tags,omitempty" jsonschema:"Labels for overlap-based filtering"`
	ExpiresAt       string          `json:"expires_at,omitempty" jsonschema:"Advisory expiry, RFC 3339"`
	Metadata        json.RawMessage `json:"metadata,omitempty" jsonschema:"Opaque metadata"`
}

type memoryOutput struct {
	Success bool           `json:"success" jsonschema:"Whether the operation succeeded"`
	Message string         `json:"message,omitempty" jsonschema:"Failure explanation"`
	Memory  *memory.Memory `json:"memory,omitempty" jsonschema:"The stored record"`
}

type memoryGetInput struct {
	APIKey     string `json:"api_key" jsonschema:"required,Caller API key"`
	ID         string `json:"id,omitempty" jsonschema:"Record ID"`
	Title      string `json:"title,omitempty" jsonschema:"Title lookup, used when id is omitted"`
	MemoryType string `json:"memory_type,omitempty" jsonschema:"Type filter for title lookup"`
}

type memoryQueryInput struct {
	APIKey             string   `json:"api_key" jsonschema:"required,Caller API key"`
	MemoryType         string   `json:"memory_type,omitempty" jsonschema:"Type filter"`
	Title              string   `json:"title,omitempty" jsonschema:"Exact title filter"`
	MinImportanceScore float64  `json:"min_importance_score,omitempty" jsonschema:"Inclusive importance lower bound"`
	RelevanceTags      []string `json:"relevance_tags,omitempty" jsonschema:"Match records overlapping any tag"`
	Limit              int      `json:"limit,omitempty" jsonschema:"Page size, default 100"`
	Offset             int      `json:"offset,omitempty" jsonschema:"Page offset"`
}

type memoryQueryOutput struct {
	Success  bool             `json:"success" jsonschema:"Whether the query succeeded"`
	Message  string           `json:"message,omitempty" jsonschema:"Failure explanation"`
	Memories []*memory.Memory `json:"memories" jsonschema:"Matching records, importance then recency order"`
	Count    int              `json:"count" jsonschema:"Number of records returned"`
}

type memoryUpdateInput struct {
	APIKey          string          `json:"api_key" jsonschema:"required,Caller API key"`
	ID              string          `json:"id" jsonschema:"required,Record ID"`
	Title           *string         `json:"title,omitempty" jsonschema:"New title"`
	Content         json.RawMessage `json:"content,omitempty" jsonschema:"New content payload"`
	ImportanceScore *float64        `json:"importance_score,omitempty" jsonschema:"New importance in [0,1]"`
	RelevanceTags   *[]string       `json:"relevance_tags,omitempty" jsonschema:"Replacement tag set"`
	ExpiresAt       string          `json:"expires_at,omitempty" jsonschema:"New advisory expiry, RFC 3339"`
	Metadata        json.RawMessage `json:"metadata,omitempty" jsonschema:"New metadata payload"`
}

type memoryDeleteInput struct {
	APIKey string `json:"api_key" jsonschema:"required,Caller API key"`
	ID     string `json:"id" jsonschema:"required,Record ID"`
}

type memoryDeleteOutput struct {
	Success bool   `json:"success" jsonschema:"Whether the operation reached the store"`
	Message string `json:"message,omitempty" jsonschema:"Failure explanation"`
	Deleted bool   `json:"deleted" jsonschema:"Whether a record was removed"`
}

func (s *Server) registerMemoryTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_save",
		Description: "Save or upsert a context memory for the authenticated user",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memorySaveInput) (*mcp.CallToolResult, memoryOutput, error) {
		finish := s.track(ctx, "memory_save")
		var toolErr error
		defer func() { finish(toolErr) }()

		userID, ok := s.authenticate(args.APIKey)
		if !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), memoryOutput{Message: authRequiredMessage}, nil
		}

		rec := &memory.Memory{
			ID:              args.ID,
			UserID:          userID,
			Type:            memory.Type(args.MemoryType),
			Title:           args.Title,
			Content:         args.Content,
			ImportanceScore: args.ImportanceScore,
			RelevanceTags:   args.RelevanceTags,
			Metadata:        args.Metadata,
		}
		if args.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, args.ExpiresAt)
			if err != nil {
				toolErr = err
				return nil, memoryOutput{}, fmt.Errorf("invalid expires_at: %w", err)
			}
			rec.ExpiresAt = &t
		}

		stored, err := s.store.Save(ctx, rec)
		if err != nil {
			toolErr = err
			return nil, memoryOutput{}, fmt.Errorf("save memory: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Memory saved: %s", stored.ID)}},
		}, memoryOutput{Success: true, Memory: stored}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch one memory by ID or by title for the authenticated user",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryGetInput) (*mcp.CallToolResult, memoryOutput, error) {
		finish := s.track(ctx, "memory_get")
		var toolErr error
		defer func() { finish(toolErr) }()

		userID, ok := s.authenticate(args.APIKey)
		if !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), memoryOutput{Message: authRequiredMessage}, nil
		}

		var (
			rec *memory.Memory
			err error
		)
		switch {
		case args.ID != "":
			rec, err = s.store.GetByID(ctx, args.ID, userID)
		case args.Title != "":
			rec, err = s.store.GetByTitle(ctx, userID, args.Title, memory.Type(args.MemoryType))
		default:
			toolErr = fmt.Errorf("validation failed")
			return nil, memoryOutput{}, fmt.Errorf("either id or title is required")
		}
		if err != nil {
			toolErr = err
			return nil, memoryOutput{}, fmt.Errorf("get memory: %w", err)
		}
		if rec == nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "not found"}},
			}, memoryOutput{Success: true}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Memory: %s", rec.ID)}},
		}, memoryOutput{Success: true, Memory: rec}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_query",
		Description: "Query the authenticated user's memories with filters and pagination",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryQueryInput) (*mcp.CallToolResult, memoryQueryOutput, error) {
		finish := s.track(ctx, "memory_query")
		var toolErr error
		defer func() { finish(toolErr) }()

		userID, ok := s.authenticate(args.APIKey)
		if !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), memoryQueryOutput{Message: authRequiredMessage}, nil
		}

		memories, err := s.store.Query(ctx, memory.QueryOptions{
			UserID:             userID,
			Type:               memory.Type(args.MemoryType),
			Title:              args.Title,
			MinImportanceScore: args.MinImportanceScore,
			RelevanceTags:      args.RelevanceTags,
			Limit:              args.Limit,
			Offset:             args.Offset,
		})
		if err != nil {
			toolErr = err
			return nil, memoryQueryOutput{}, fmt.Errorf("query memories: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d memories", len(memories))}},
		}, memoryQueryOutput{Success: true, Memories: memories, Count: len(memories)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_update",
		Description: "Partially update one of the authenticated user's memories",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryUpdateInput) (*mcp.CallToolResult, memoryOutput, error) {
		finish := s.track(ctx, "memory_update")
		var toolErr error
		defer func() { finish(toolErr) }()

		userID, ok := s.authenticate(args.APIKey)
		if !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), memoryOutput{Message: authRequiredMessage}, nil
		}

		patch := memory.Patch{
			Title:           args.Title,
			Content:         args.Content,
			Metadata:        args.Metadata,
			ImportanceScore: args.ImportanceScore,
			RelevanceTags:   args.RelevanceTags,
		}
		if args.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, args.ExpiresAt)
			if err != nil {
				toolErr = err
				return nil, memoryOutput{}, fmt.Errorf("invalid expires_at: %w", err)
			}
			patch.ExpiresAt = &t
		}

		updated, err := s.store.Update(ctx, args.ID, userID, patch)
		if err != nil {
			toolErr = err
			return nil, memoryOutput{}, fmt.Errorf("update memory: %w", err)
		}
		if updated == nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "not found"}},
			}, memoryOutput{Success: true}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Memory updated: %s", updated.ID)}},
		}, memoryOutput{Success: true, Memory: updated}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_delete",
		Description: "Delete one of the authenticated user's memories",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryDeleteInput) (*mcp.CallToolResult, memoryDeleteOutput, error) {
		finish := s.track(ctx, "memory_delete")
		var toolErr error
		defer func() { finish(toolErr) }()

		userID, ok := s.authenticate(args.APIKey)
		if !ok {
			toolErr = fmt.Errorf("authentication failed")
			return authFailureResult(), memoryDeleteOutput{Message: authRequiredMessage}, nil
		}

		deleted, err := s.store.Delete(ctx, args.ID, userID)
		if err != nil {
			toolErr = err
			return nil, memoryDeleteOutput{}, fmt.Errorf("delete memory: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("deleted=%t", deleted)}},
		}, memoryDeleteOutput{Success: true, Deleted: deleted}, nil
	})
}
