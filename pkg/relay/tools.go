package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost"
)

// DefaultListFamiliesLimit caps list_families results when the caller gives no limit.
const DefaultListFamiliesLimit = 50

// MaxListFamiliesLimit is the largest limit list_families accepts.
const MaxListFamiliesLimit = 10000

// StatusTool reports whether Revit and the Route Host are reachable.
const StatusTool = "get_revit_status"

const executeCodeDescription = `Execute IronPython code inside the running Revit session.

The code is sent verbatim to Revit and runs with the full privileges of the Revit process.
It is not sandboxed, inspected or restricted in any way. Only connect this tool to clients you trust.

Available in scope: doc (active document), DB (Autodesk.Revit.DB), revit (pyRevit module) and print().
Model changes must be wrapped in a DB.Transaction.`

func emptyObject() (schema *jsonschema.Schema) {
	schema = &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}}
	return schema
}

// getTool builds a read-only tool relaying a parameterless GET.
func getTool(name, title, description, endpoint string) (tool *Tool) {
	tool = &Tool{
		Name:        name,
		Title:       title,
		Description: description,
		InputSchema: emptyObject(),
		ReadOnly:    true,
		Handler: func(ctx context.Context, host *routehost.Client, _ Arguments) routehost.Response {
			return host.Get(ctx, endpoint, "", nil)
		},
	}

	return tool
}

func withProgress(tool *Tool, message string) (result *Tool) {
	tool.Progress = message
	result = tool
	return result
}

// postTool builds a tool whose arguments are sent unchanged as the POST body.
func postTool(catalog *routehost.Catalog, name, title, description, endpoint string) (tool *Tool, err error) {
	ep, err := catalog.Lookup(endpoint)
	if err != nil {
		return nil, err
	}
	if ep.Payload == nil {
		err = fmt.Errorf("endpoint %s has no payload schema", endpoint)
		return nil, err
	}

	tool = &Tool{
		Name:        name,
		Title:       title,
		Description: description,
		InputSchema: ep.Payload,
		Handler: func(ctx context.Context, host *routehost.Client, args Arguments) routehost.Response {
			return host.Post(ctx, endpoint, "", map[string]any(args))
		},
	}

	return tool, err
}

// DefaultTools returns the Revit tool set, bound to endpoints in catalog.
func DefaultTools(catalog *routehost.Catalog) (tools []*Tool, err error) {
	tools = []*Tool{
		getTool(StatusTool, "Revit status",
			"Check if the Revit MCP API is active and responding",
			routehost.EndpointStatus),
		getTool("get_revit_model_info", "Model information",
			"Get comprehensive information about the current Revit model: project info, element counts by category, levels, rooms and linked models",
			routehost.EndpointModelInfo),
		getTool("list_levels", "List levels",
			"Get a list of all levels in the current Revit model with their elevations",
			routehost.EndpointListLevels),
		viewImageTool(),
		getTool("list_revit_views", "List views",
			"Get a list of all exportable views in the current Revit model",
			routehost.EndpointListViews),
		withProgress(getTool("get_current_view_info", "Current view information",
			"Get detailed information about the currently active view in Revit: name, type and ID, scale and detail level, crop box status, view family type, discipline and template status",
			routehost.EndpointCurrentViewInfo),
			"Getting current view information..."),
		withProgress(getTool("get_current_view_elements", "Current view elements",
			"Get all elements visible in the currently active view in Revit, with element ID, name, type, category, level and location, plus summary statistics grouped by category",
			routehost.EndpointCurrentViewElements),
			"Getting elements in current view..."),
		listFamiliesTool(),
		getTool("list_family_categories", "List family categories",
			"Get a list of all family categories used in the current Revit model",
			routehost.EndpointListFamilyCategories),
	}

	posts := []struct {
		name        string
		title       string
		description string
		endpoint    string
		readOnly    bool
		destructive bool
	}{
		{
			name:        "place_family",
			title:       "Place family instance",
			description: "Place a family instance at the given location (x, y, z in feet) with optional type, rotation in degrees, level and instance parameters",
			endpoint:    routehost.EndpointPlaceFamily,
		},
		{
			name:        "list_category_parameters",
			title:       "List category parameters",
			description: "List the parameters available on elements of a Revit category, for use with color_splash",
			endpoint:    routehost.EndpointListCategoryParameters,
			readOnly:    true,
		},
		{
			name:        "color_splash",
			title:       "Color elements by parameter",
			description: "Color elements of a category in the active view by the values of a parameter, using a palette or a gradient, or custom hex colors",
			endpoint:    routehost.EndpointColorSplash,
		},
		{
			name:        "clear_colors",
			title:       "Clear colors",
			description: "Remove color overrides from elements of a category in the active view",
			endpoint:    routehost.EndpointClearColors,
			destructive: true,
		},
	}

	for _, p := range posts {
		var tool *Tool
		tool, err = postTool(catalog, p.name, p.title, p.description, p.endpoint)
		if err != nil {
			err = fmt.Errorf("building %s: %w", p.name, err)
			return nil, err
		}
		tool.ReadOnly = p.readOnly
		tool.Destructive = p.destructive
		tools = append(tools, tool)
	}

	tools = append(tools, executeCodeTool())

	return tools, err
}

func viewImageTool() (tool *Tool) {
	tool = &Tool{
		Name:        "get_revit_view",
		Title:       "Export view",
		Description: "Export a specific Revit view as a PNG image",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"view_name": {
					Type:        "string",
					Description: "Name of the view to export, as returned by list_revit_views",
					MinLength:   jsonschema.Ptr(1),
				},
			},
			Required: []string{"view_name"},
		},
		ReadOnly: true,
		Handler: func(ctx context.Context, host *routehost.Client, args Arguments) routehost.Response {
			return host.Image(ctx, routehost.EndpointGetView, args.String("view_name"))
		},
	}

	return tool
}

func listFamiliesTool() (tool *Tool) {
	tool = &Tool{
		Name:        "list_families",
		Title:       "List families",
		Description: "Get a list of available family types in the current Revit model, optionally filtered by a name substring",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"contains": {
					Type:        "string",
					Description: "Only return families whose name contains this text",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum number of families to return",
					Minimum:     jsonschema.Ptr(1.0),
					Maximum:     jsonschema.Ptr(float64(MaxListFamiliesLimit)),
					Default:     json.RawMessage(strconv.Itoa(DefaultListFamiliesLimit)),
				},
			},
		},
		ReadOnly: true,
		Handler: func(ctx context.Context, host *routehost.Client, args Arguments) routehost.Response {
			query := url.Values{}
			if contains := args.String("contains"); contains != "" {
				query.Set("contains", contains)
			}

			limit := args.Int("limit", DefaultListFamiliesLimit)
			query.Set("limit", strconv.FormatInt(limit, 10))

			return host.Get(ctx, routehost.EndpointListFamilies, "", query)
		},
	}

	return tool
}

func executeCodeTool() (tool *Tool) {
	tool = &Tool{
		Name:        "execute_revit_code",
		Title:       "Execute code in Revit",
		Description: executeCodeDescription,
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"code": {
					Type:        "string",
					Description: "IronPython source to execute",
					MinLength:   jsonschema.Ptr(1),
				},
				"description": {
					Type:        "string",
					Description: "Short description of what the code does",
				},
			},
			Required: []string{"code"},
		},
		Destructive: true,
		Handler: func(ctx context.Context, host *routehost.Client, args Arguments) routehost.Response {
			return host.Execute(ctx, args.String("code"), args.String("description"))
		},
	}

	return tool
}
