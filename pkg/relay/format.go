package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost"
)

// Status fields rendered first, in this order, by the status block.
var statusFields = []struct {
	key   string
	label string
}{
	{"api_name", "API"},
	{"document_title", "Document"},
	{"revit_available", "Revit Available"},
}

// Fields the error block renders itself and leaves out of the additional data section.
var errorFields = map[string]bool{
	"error":          true,
	"traceback":      true,
	"details":        true,
	"status":         true,
	"code_attempted": true,
	"endpoint":       true,
	"request_data":   true,
	"response_code":  true,
}

var debugFields = []string{"code_attempted", "endpoint", "request_data", "response_code"}

// Format renders a Response as the text an MCP client sees.
func Format(resp routehost.Response) (text string) {
	if resp.OK() {
		text = formatSuccess(resp)
		return text
	}

	text = formatFailure(resp)
	return text
}

func formatSuccess(resp routehost.Response) (text string) {
	if image, ok := resp.Data.(routehost.Image); ok {
		text = fmt.Sprintf("Exported view image (%s, %d bytes)", image.MIMEType, len(image.Data))
		return text
	}

	body := resp.Body
	if body == nil && resp.Data == nil {
		text = "Success (no content)"
		return text
	}
	if body == nil {
		text = indentJSON(resp.Data)
		return text
	}

	for _, key := range []string{"output", "message", "result", "data"} {
		if value, ok := body[key]; ok {
			text = valueText(value)
			return text
		}
	}

	if status, _ := body["status"].(string); strings.EqualFold(status, "active") {
		text = formatStatus(body)
		return text
	}

	text = indentJSON(body)
	return text
}

func formatStatus(body map[string]any) (text string) {
	lines := []string{
		"=== REVIT STATUS ===",
		"Status: " + fieldOr(body, "status", "Unknown"),
		"Health: " + fieldOr(body, "health", "Unknown"),
	}

	known := map[string]bool{"status": true, "health": true}
	for _, field := range statusFields {
		known[field.key] = true
		if value, ok := body[field.key]; ok {
			lines = append(lines, field.label+": "+valueText(value))
		}
	}

	others := remainingKeys(body, known)
	if len(others) > 0 {
		lines = append(lines, "")
		for _, key := range others {
			lines = append(lines, titleCase(key)+": "+valueText(body[key]))
		}
	}

	text = strings.Join(lines, "\n")
	return text
}

func formatFailure(resp routehost.Response) (text string) {
	switch {
	case resp.Class != routehost.ClassApplication:
		text = "Error: " + resp.Message
		return text
	case resp.Body == nil:
		text = fmt.Sprintf("Error: %d - %s", resp.HTTPStatus, resp.Message)
		return text
	}

	body := resp.Body
	lines := []string{
		"=== ERROR DETAILS ===",
		"Status: " + fieldOr(body, "status", "unknown"),
	}

	if resp.HTTPStatus != 0 && (resp.HTTPStatus < 200 || resp.HTTPStatus > 299) {
		lines = append(lines, fmt.Sprintf("HTTP Status: %d %s", resp.HTTPStatus, http.StatusText(resp.HTTPStatus)))
	}

	lines = append(lines, "Error: "+resp.Message)

	if details := fieldOr(body, "details", ""); details != "" {
		lines = append(lines, "Details: "+details)
	}

	if traceback := fieldOr(body, "traceback", ""); traceback != "" {
		lines = append(lines, "\n=== TRACEBACK ===", traceback)
	}

	for _, key := range debugFields {
		if value, ok := body[key]; ok {
			lines = append(lines, titleCase(key)+": "+valueText(value))
		}
	}

	others := remainingKeys(body, errorFields)
	if len(others) > 0 {
		lines = append(lines, "\n=== ADDITIONAL RESPONSE DATA ===")
		for _, key := range others {
			lines = append(lines, key+": "+valueText(body[key]))
		}
	}

	text = strings.Join(lines, "\n")
	return text
}

func fieldOr(body map[string]any, key, fallback string) (text string) {
	value, ok := body[key]
	if !ok || value == nil {
		text = fallback
		return text
	}

	text = valueText(value)
	return text
}

func remainingKeys(body map[string]any, skip map[string]bool) (keys []string) {
	for key := range body {
		if !skip[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys
}

// valueText renders strings as-is and everything else as compact JSON.
func valueText(value any) (text string) {
	switch v := value.(type) {
	case string:
		text = v
	case json.Number:
		text = v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprint(v)
			return text
		}
		text = string(encoded)
	}

	return text
}

func indentJSON(value any) (text string) {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		text = fmt.Sprint(value)
		return text
	}

	text = string(encoded)
	return text
}

func titleCase(key string) (title string) {
	title = cases.Title(language.Und).String(strings.ReplaceAll(key, "_", " "))
	return title
}
