package openai

import "strings"

// ToolDescriptor is one entry of the Responses API "tools" array. Descriptors
// are built per request and never cached: the MCP descriptor may embed a
// per-user bearer token.
type ToolDescriptor struct {
	Type            string            `json:"type"`
	ServerLabel     string            `json:"server_label,omitempty"`
	ServerURL       string            `json:"server_url,omitempty"`
	RequireApproval string            `json:"require_approval,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// BuildToolset returns the tool descriptors offered to the model for one
// turn: the Bullhorn MCP bridge plus web search. The Authorization header is
// attached only when a bearer token was resolved for the caller.
func BuildToolset(bearerToken, mcpBaseURL string) []ToolDescriptor {
	mcp := ToolDescriptor{
		Type:            "mcp",
		ServerLabel:     "Bullhorn",
		ServerURL:       strings.TrimRight(mcpBaseURL, "/") + "/sse",
		RequireApproval: "never",
	}
	if bearerToken != "" {
		mcp.Headers = map[string]string{
			"Authorization": "Bearer " + bearerToken,
		}
	}
	return []ToolDescriptor{
		mcp,
		{Type: "web_search_preview"},
	}
}
