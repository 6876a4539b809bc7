package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation documents one route. Request and Response name component
// schemas registered with AddSchema.
type Operation struct {
	Summary  string
	Request  string
	Response string
	// List marks responses wrapped in the pagination envelope.
	List   bool
	Status int
	Query  []string
}

// Generator builds an OpenAPI 3.0 document from the routes registered on an
// echo instance. Routes without an Operation are still listed.
type Generator struct {
	title   string
	version string
	prefix  string
	routes  func() []*echo.Route
	ops     map[string]Operation
	schemas map[string]interface{}
}

// NewGenerator creates a generator describing every route under prefix.
func NewGenerator(title, version, prefix string, routes func() []*echo.Route) *Generator {
	return &Generator{
		title:   title,
		version: version,
		prefix:  prefix,
		routes:  routes,
		ops:     make(map[string]Operation),
		schemas: map[string]interface{}{"Error": errorSchema()},
	}
}

// Describe attaches documentation to the route method path, where path uses
// echo syntax ("/appointments/:id").
func (g *Generator) Describe(method, path string, op Operation) {
	g.ops[method+" "+path] = op
}

func (g *Generator) AddSchema(name string, schema map[string]interface{}) {
	g.schemas[name] = schema
}

var documentedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// GenerateDocument produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateDocument() map[string]interface{} {
	routes := g.routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]map[string]interface{})
	for _, r := range routes {
		if !documentedMethods[r.Method] || !strings.HasPrefix(r.Path, g.prefix) || strings.Contains(r.Path, "*") {
			continue
		}
		rel := strings.TrimPrefix(r.Path, g.prefix)
		if rel == "" {
			continue
		}
		apiPath, params := convertPath(r.Path)
		if paths[apiPath] == nil {
			paths[apiPath] = make(map[string]interface{})
		}
		paths[apiPath][strings.ToLower(r.Method)] = g.buildOperation(r.Method, rel, params)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": g.schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

// convertPath turns "/a/:id" into "/a/{id}" and returns the parameter names.
func convertPath(path string) (string, []string) {
	segments := strings.Split(path, "/")
	var params []string
	for i, s := range segments {
		if strings.HasPrefix(s, ":") {
			params = append(params, s[1:])
			segments[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segments, "/"), params
}

func (g *Generator) buildOperation(method, rel string, pathParams []string) map[string]interface{} {
	op := g.ops[method+" "+rel]
	tag := strings.SplitN(strings.TrimPrefix(rel, "/"), "/", 2)[0]

	var params []map[string]interface{}
	for _, p := range pathParams {
		params = append(params, map[string]interface{}{
			"name": p, "in": "path", "required": true,
			"schema": map[string]string{"type": "string", "format": "uuid"},
		})
	}
	for _, q := range op.Query {
		params = append(params, map[string]interface{}{
			"name": q, "in": "query", "required": false,
			"schema": map[string]string{"type": "string"},
		})
	}
	if op.List {
		for _, q := range []string{"limit", "offset"} {
			params = append(params, map[string]interface{}{
				"name": q, "in": "query", "required": false,
				"schema": map[string]string{"type": "integer"},
			})
		}
	}

	status := op.Status
	if status == 0 {
		status = http.StatusOK
		if method == http.MethodPost && op.Response != "" && !strings.Contains(rel, ":") {
			status = http.StatusCreated
		}
	}
	responses := map[string]interface{}{
		strconv.Itoa(status): buildResponse(http.StatusText(status), op.Response, op.List),
		"400":                buildResponse("Invalid request", "Error", false),
		"401":                buildResponse("Missing or invalid credentials", "Error", false),
		"403":                buildResponse("Not permitted", "Error", false),
	}
	if len(pathParams) > 0 {
		responses["404"] = buildResponse("Not found", "Error", false)
	}
	if method != http.MethodGet {
		responses["409"] = buildResponse("Conflict", "Error", false)
	}

	summary := op.Summary
	if summary == "" {
		summary = method + " " + rel
	}
	out := map[string]interface{}{
		"summary":     summary,
		"operationId": operationID(method, rel),
		"tags":        []string{tag},
		"responses":   responses,
	}
	if len(params) > 0 {
		out["parameters"] = params
	}
	if op.Request != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]interface{}{"$ref": "#/components/schemas/" + op.Request},
				},
			},
		}
	}
	return out
}

// operationID derives "getAppointmentsById" style ids from method and path.
func operationID(method, rel string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, s := range strings.Split(rel, "/") {
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, ":") {
			s = "by-" + s[1:]
		}
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' }) {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

func buildResponse(description, schema string, list bool) map[string]interface{} {
	resp := map[string]interface{}{"description": description}
	if schema == "" {
		return resp
	}
	var body map[string]interface{}
	ref := map[string]interface{}{"$ref": "#/components/schemas/" + schema}
	if list {
		body = map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"data":     map[string]interface{}{"type": "array", "items": ref},
				"total":    map[string]interface{}{"type": "integer"},
				"limit":    map[string]interface{}{"type": "integer"},
				"offset":   map[string]interface{}{"type": "integer"},
				"has_more": map[string]interface{}{"type": "boolean"},
			},
		}
	} else {
		body = ref
	}
	resp["content"] = map[string]interface{}{
		"application/json": map[string]interface{}{"schema": body},
	}
	return resp
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
		"required": []string{"message"},
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Clinic Scheduling API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateDocument())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
