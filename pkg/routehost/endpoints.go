package routehost

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Endpoint names. These are the only routes the relay will ever call.
const (
	EndpointStatus                 = "status"
	EndpointModelInfo              = "model_info"
	EndpointListLevels             = "list_levels"
	EndpointListViews              = "list_views"
	EndpointGetView                = "get_view"
	EndpointCurrentViewInfo        = "current_view_info"
	EndpointCurrentViewElements    = "current_view_elements"
	EndpointListFamilies           = "list_families"
	EndpointListFamilyCategories   = "list_family_categories"
	EndpointPlaceFamily            = "place_family"
	EndpointListCategoryParameters = "list_category_parameters"
	EndpointColorSplash            = "color_splash"
	EndpointClearColors            = "clear_colors"
	EndpointExecuteCode            = "execute_code"
)

var (
	// ErrUnknownEndpoint is returned when a name is not part of the catalog.
	ErrUnknownEndpoint = errors.New("unknown route host endpoint")

	// ErrMissingPathParam is returned when an endpoint path needs a segment that was not supplied.
	ErrMissingPathParam = errors.New("missing path parameter")
)

// Endpoint describes one Route Host route.
type Endpoint struct {
	Name   string
	Method string
	// Path is relative to the base URL and may contain a single {param} segment.
	Path string
	// Image marks routes that answer with base64 PNG data under image_data.
	Image bool
	// Payload is the JSON Schema a POST body must satisfy. Nil for GET routes.
	Payload *jsonschema.Schema

	resolved *jsonschema.Resolved
}

// PathParam returns the name of the {param} placeholder in the path, or "".
func (e *Endpoint) PathParam() (name string) {
	start := strings.IndexByte(e.Path, '{')
	if start < 0 {
		return name
	}
	end := strings.IndexByte(e.Path[start:], '}')
	if end < 0 {
		return name
	}

	name = e.Path[start+1 : start+end]
	return name
}

// BuildPath substitutes the path parameter, escaping it as a single segment.
func (e *Endpoint) BuildPath(param string) (path string, err error) {
	name := e.PathParam()
	if name == "" {
		path = e.Path
		return path, err
	}

	if strings.TrimSpace(param) == "" {
		err = fmt.Errorf("%w: %s requires %s", ErrMissingPathParam, e.Name, name)
		return path, err
	}

	path = strings.Replace(e.Path, "{"+name+"}", url.PathEscape(param), 1)
	return path, err
}

// ValidatePayload checks a decoded JSON value against the endpoint's payload schema.
func (e *Endpoint) ValidatePayload(instance any) (err error) {
	if e.resolved == nil {
		return err
	}

	err = e.resolved.Validate(instance)
	if err != nil {
		err = fmt.Errorf("invalid %s payload: %w", e.Name, err)
		return err
	}

	return err
}

// Catalog is the closed set of endpoints a Client may call.
type Catalog struct {
	endpoints map[string]*Endpoint
}

// NewCatalog builds a catalog, resolving every payload schema up front.
func NewCatalog(endpoints ...Endpoint) (catalog *Catalog, err error) {
	catalog = &Catalog{endpoints: make(map[string]*Endpoint, len(endpoints))}

	for i := range endpoints {
		ep := endpoints[i]

		if ep.Name == "" {
			err = errors.New("endpoint name is required")
			return nil, err
		}
		if ep.Method != http.MethodGet && ep.Method != http.MethodPost {
			err = fmt.Errorf("endpoint %s: unsupported method %q", ep.Name, ep.Method)
			return nil, err
		}
		if _, exists := catalog.endpoints[ep.Name]; exists {
			err = fmt.Errorf("duplicate endpoint %s", ep.Name)
			return nil, err
		}

		if ep.Payload != nil {
			ep.resolved, err = ep.Payload.Resolve(nil)
			if err != nil {
				err = fmt.Errorf("resolving %s payload schema: %w", ep.Name, err)
				return nil, err
			}
		}

		catalog.endpoints[ep.Name] = &ep
	}

	return catalog, err
}

// Lookup finds an endpoint by name.
func (c *Catalog) Lookup(name string) (endpoint *Endpoint, err error) {
	endpoint, ok := c.endpoints[name]
	if !ok {
		err = fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
		return nil, err
	}

	return endpoint, err
}

// Names lists the endpoint names in sorted order.
func (c *Catalog) Names() (names []string) {
	names = make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// DefaultEndpoints returns the routes registered by the pyRevit extension.
func DefaultEndpoints() (endpoints []Endpoint) {
	endpoints = []Endpoint{
		{Name: EndpointStatus, Method: http.MethodGet, Path: "/status/"},
		{Name: EndpointModelInfo, Method: http.MethodGet, Path: "/model_info/"},
		{Name: EndpointListLevels, Method: http.MethodGet, Path: "/list_levels/"},
		{Name: EndpointListViews, Method: http.MethodGet, Path: "/list_views/"},
		{Name: EndpointGetView, Method: http.MethodGet, Path: "/get_view/{view_name}", Image: true},
		{Name: EndpointCurrentViewInfo, Method: http.MethodGet, Path: "/current_view_info/"},
		{Name: EndpointCurrentViewElements, Method: http.MethodGet, Path: "/current_view_elements/"},
		{Name: EndpointListFamilies, Method: http.MethodGet, Path: "/list_families/"},
		{Name: EndpointListFamilyCategories, Method: http.MethodGet, Path: "/list_family_categories/"},
		{Name: EndpointPlaceFamily, Method: http.MethodPost, Path: "/place_family/", Payload: placeFamilySchema()},
		{Name: EndpointListCategoryParameters, Method: http.MethodPost, Path: "/list_category_parameters/", Payload: categorySchema()},
		{Name: EndpointColorSplash, Method: http.MethodPost, Path: "/color_splash/", Payload: colorSplashSchema()},
		{Name: EndpointClearColors, Method: http.MethodPost, Path: "/clear_colors/", Payload: categorySchema()},
		{Name: EndpointExecuteCode, Method: http.MethodPost, Path: "/execute_code/", Payload: executeCodeSchema()},
	}

	return endpoints
}

// DefaultCatalog returns the catalog of DefaultEndpoints.
func DefaultCatalog() (catalog *Catalog) {
	catalog, err := NewCatalog(DefaultEndpoints()...)
	if err != nil {
		panic(fmt.Sprintf("default route host catalog: %v", err))
	}

	return catalog
}

func nonEmptyString(description string) (schema *jsonschema.Schema) {
	schema = &jsonschema.Schema{
		Type:        "string",
		Description: description,
		MinLength:   jsonschema.Ptr(1),
	}

	return schema
}

func categorySchema() (schema *jsonschema.Schema) {
	schema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"category_name": nonEmptyString("Revit category, e.g. Walls"),
		},
		Required: []string{"category_name"},
	}

	return schema
}

func placeFamilySchema() (schema *jsonschema.Schema) {
	schema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"family_name": nonEmptyString("Family to place"),
			"type_name":   {Type: "string"},
			"location": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"x": {Type: "number"},
					"y": {Type: "number"},
					"z": {Type: "number"},
				},
				Required: []string{"x", "y", "z"},
			},
			"rotation":   {Type: "number"},
			"level_name": {Type: "string"},
			"properties": {Type: "object"},
		},
		Required: []string{"family_name", "location"},
	}

	return schema
}

func colorSplashSchema() (schema *jsonschema.Schema) {
	schema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"category_name":  nonEmptyString("Revit category to color"),
			"parameter_name": nonEmptyString("Parameter whose values drive the colors"),
			"use_gradient":   {Type: "boolean"},
			"custom_colors": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
		},
		Required: []string{"category_name", "parameter_name"},
	}

	return schema
}

func executeCodeSchema() (schema *jsonschema.Schema) {
	schema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"code":        nonEmptyString("IronPython source"),
			"description": {Type: "string"},
		},
		Required: []string{"code"},
	}

	return schema
}
