package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/fleetd/internal/contracts"
	"github.com/mozilla-ai/fleetd/internal/errors"
)

const (
	// queryParamDetail is the name of the query parameter for detail level selection.
	queryParamDetail = "detail"

	// toolDetailFull returns all fields including the input schema.
	toolDetailFull toolDetailLevel = "full"

	// toolDetailMinimal returns only the name.
	toolDetailMinimal toolDetailLevel = "minimal"

	// toolDetailSummary returns name and description.
	toolDetailSummary toolDetailLevel = "summary"
)

// toolDetailLevel defines the amount of information to return about tools.
type toolDetailLevel string

// ToolCallResponse represents the wrapped API response for calling a tool.
type ToolCallResponse struct {
	Body string
}

// ToolView is a union constraint for all tool view types.
type ToolView interface {
	ToolMinimal | ToolSummary | Tool
}

// ToolsResponseBody represents the body of a tools response.
type ToolsResponseBody[T ToolView] struct {
	Tools []T `json:"tools"`
}

// ToolsResponse represents a generic wrapped API response for tool collections.
type ToolsResponse[T ToolView] struct {
	Body ToolsResponseBody[T]
}

// ToolMinimal identifies a tool.
type ToolMinimal struct {
	Name string `doc:"Name of the tool" json:"name"`
}

// ToolSummary adds the human-readable description to ToolMinimal.
type ToolSummary struct {
	ToolMinimal

	Description string `doc:"Description of what the tool does" json:"description"`
}

// Tool is the complete description of a tool, including the schema its arguments are validated against.
type Tool struct {
	ToolSummary

	InputSchema *JSONSchema `doc:"Input parameters schema" json:"inputSchema,omitempty"`
}

// JSONSchema defines the structure for a JSON schema object.
type JSONSchema struct {
	// Type defines the type for this schema, e.g. "object".
	Type string `json:"type"`

	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// ServerToolsRequest represents the incoming API request for the tools of a server.
type ServerToolsRequest struct {
	Name   string `doc:"Name of the server"                     example:"quotes" path:"name"`
	Detail string `doc:"Detail level: minimal, summary or full" query:"detail" required:"false"`
}

// ServerToolCallRequest represents the incoming API request to call a tool on a particular server.
type ServerToolCallRequest struct {
	Name string         `doc:"Name of the server"       example:"quotes" path:"name"`
	Tool string         `doc:"Name of the tool to call" example:"quote"  path:"tool"`
	Body map[string]any `doc:"Arguments of the tool call"`
}

// domainTool wraps mcp.Tool for conversion to Tool via ToAPIType.
type domainTool mcp.Tool

// domainToolMinimal wraps Tool for projection to ToolMinimal via ToAPIType.
type domainToolMinimal Tool

// domainToolSummary wraps Tool for projection to ToolSummary via ToAPIType.
type domainToolSummary Tool

var (
	_ Convertible[Tool]        = domainTool{}
	_ Convertible[ToolMinimal] = domainToolMinimal{}
	_ Convertible[ToolSummary] = domainToolSummary{}
)

// Normalize handles case-insensitivity and trimming, providing a safe default.
func (t toolDetailLevel) Normalize() toolDetailLevel {
	normalized := toolDetailLevel(strings.ToLower(strings.TrimSpace(string(t))))
	switch normalized {
	case toolDetailMinimal, toolDetailSummary, toolDetailFull:
		return normalized
	default:
		return toolDetailFull
	}
}

// ToAPIType converts a wrapped domain type to Tool.
func (d domainTool) ToAPIType() (Tool, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return Tool{}, fmt.Errorf("tool name cannot be empty")
	}

	var schema *JSONSchema
	if d.InputSchema.Type != "" {
		schema = &JSONSchema{
			Type:       d.InputSchema.Type,
			Properties: d.InputSchema.Properties,
			Required:   d.InputSchema.Required,
		}
	}

	return Tool{
		ToolSummary: ToolSummary{
			ToolMinimal: ToolMinimal{Name: name},
			Description: d.Description,
		},
		InputSchema: schema,
	}, nil
}

// ToAPIType projects Tool to ToolMinimal.
func (t domainToolMinimal) ToAPIType() (ToolMinimal, error) {
	return t.ToolMinimal, nil
}

// ToAPIType projects Tool to ToolSummary.
func (t domainToolSummary) ToAPIType() (ToolSummary, error) {
	return t.ToolSummary, nil
}

// RegisterToolRoutes sets up the tool routes of a server group.
func RegisterToolRoutes(parentAPI huma.API, supervisor contracts.ServerSupervisor) {
	tags := []string{"Tools"}

	huma.Register(
		parentAPI,
		huma.Operation{
			OperationID: "listTools",
			Method:      http.MethodGet,
			Path:        "/{name}/tools",
			Summary:     "List server tools",
			Description: "Returns tools with configurable detail level via ?detail= query parameter (minimal, summary, full)",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerToolsRequest) (*ToolsResponse[Tool], error) {
			return handleServerTools(ctx, supervisor, input.Name)
		},
	)

	huma.Register(
		parentAPI,
		huma.Operation{
			OperationID: "callTool",
			Method:      http.MethodPost,
			Path:        "/{name}/tools/{tool}",
			Summary:     "Call a tool on a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerToolCallRequest) (*ToolCallResponse, error) {
			return handleServerToolCall(ctx, supervisor, input.Name, input.Tool, input.Body)
		},
	)
}

// handleServerTools returns the tools a running server advertises.
func handleServerTools(ctx context.Context, supervisor contracts.ServerSupervisor, name string) (*ToolsResponse[Tool], error) {
	result, err := supervisor.ListTools(ctx, name)
	if err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(result))
	for _, tool := range result {
		data, err := domainTool(tool).ToAPIType()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errors.ErrToolListFailed, name, err)
		}
		tools = append(tools, data)
	}

	resp := &ToolsResponse[Tool]{}
	resp.Body.Tools = tools

	return resp, nil
}

// handleServerToolCall calls a tool on a running server and returns its text output.
func handleServerToolCall(
	ctx context.Context,
	supervisor contracts.ServerSupervisor,
	server string,
	tool string,
	args map[string]any,
) (*ToolCallResponse, error) {
	result, err := supervisor.CallTool(ctx, server, tool, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s/%s: result was nil", errors.ErrToolCallFailed, server, tool)
	}
	if result.IsError {
		return nil, fmt.Errorf("%w: %s/%s: %s", errors.ErrToolCallFailed, server, tool, extractMessage(result.Content))
	}

	resp := &ToolCallResponse{}
	resp.Body = extractMessage(result.Content)

	return resp, nil
}

// extractMessage returns the text of the first text item in content.
func extractMessage(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// toolFieldSelectTransformer filters tool responses to the detail level requested by ?detail=.
func toolFieldSelectTransformer(ctx huma.Context, _ string, v any) (any, error) {
	detail := toolDetailLevel(ctx.Query(queryParamDetail)).Normalize()
	if detail == toolDetailFull {
		return v, nil
	}

	// Huma passes the Body field to transformers, not the full response.
	body, ok := v.(ToolsResponseBody[Tool])
	if !ok {
		return v, nil
	}

	switch detail {
	case toolDetailMinimal:
		out := make([]ToolMinimal, 0, len(body.Tools))
		for _, tool := range body.Tools {
			m, err := domainToolMinimal(tool).ToAPIType()
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return ToolsResponseBody[ToolMinimal]{Tools: out}, nil
	case toolDetailSummary:
		out := make([]ToolSummary, 0, len(body.Tools))
		for _, tool := range body.Tools {
			s, err := domainToolSummary(tool).ToAPIType()
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return ToolsResponseBody[ToolSummary]{Tools: out}, nil
	default:
		return v, nil
	}
}
