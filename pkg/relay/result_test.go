package relay

import (
	"net/http"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost"
)

func TestToCallToolResult(t *testing.T) {
	t.Parallel()

	t.Run("failure_is_tool_error", func(t *testing.T) {
		t.Parallel()

		result := ToCallToolResult(routehost.Failure("status", routehost.ClassTransport, 0, "connection refused", nil))

		assert.True(t, result.IsError)
		assert.Nil(t, result.StructuredContent)
		require.Len(t, result.Content, 1)
		text, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		assert.Equal(t, "Error: connection refused", text.Text)
	})

	t.Run("object_data_is_structured", func(t *testing.T) {
		t.Parallel()

		data := map[string]any{"x": float64(1)}
		result := ToCallToolResult(routehost.Success("list_levels", data, map[string]any{"status": "success", "data": data}))

		assert.False(t, result.IsError)
		assert.Equal(t, data, result.StructuredContent)
		require.Len(t, result.Content, 1)
		text, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		assert.Equal(t, `{"x":1}`, text.Text)
	})

	t.Run("array_data_is_text_only", func(t *testing.T) {
		t.Parallel()

		result := ToCallToolResult(routehost.Success("list_views", []any{"Plan"}, nil))

		assert.False(t, result.IsError)
		assert.Nil(t, result.StructuredContent)
		require.Len(t, result.Content, 1)
	})

	t.Run("image_content", func(t *testing.T) {
		t.Parallel()

		png := []byte{0x89, 'P', 'N', 'G'}
		result := ToCallToolResult(routehost.Success("get_view", routehost.Image{Data: png, MIMEType: "image/png"}, map[string]any{"image_data": "iVBORw=="}))

		assert.False(t, result.IsError)
		require.Len(t, result.Content, 1)
		image, ok := result.Content[0].(*mcp.ImageContent)
		require.True(t, ok)
		assert.Equal(t, png, image.Data)
		assert.Equal(t, "image/png", image.MIMEType)
	})

	t.Run("application_failure_keeps_details", func(t *testing.T) {
		t.Parallel()

		result := ToCallToolResult(routehost.Failure("model_info", routehost.ClassApplication, http.StatusServiceUnavailable,
			"No active Revit document", map[string]any{"error": "No active Revit document"}))

		assert.True(t, result.IsError)
		text, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		assert.Contains(t, text.Text, "No active Revit document")
		assert.Contains(t, text.Text, "503")
	})
}
