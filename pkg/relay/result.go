package relay

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost"
)

// ToCallToolResult converts a Response into MCP tool call content.
// Failures become tool errors the model can read, never protocol errors.
func ToCallToolResult(resp routehost.Response) (result *mcp.CallToolResult) {
	if !resp.OK() {
		result = &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: Format(resp)}},
			IsError: true,
		}
		return result
	}

	if image, ok := resp.Data.(routehost.Image); ok {
		result = &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.ImageContent{Data: image.Data, MIMEType: image.MIMEType}},
		}
		return result
	}

	result = &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: Format(resp)}},
	}

	if object, ok := resp.Data.(map[string]any); ok {
		result.StructuredContent = object
	}

	return result
}
