package openapi

import (
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Param is a path or query parameter of an operation.
type Param struct {
	Name     string
	In       string
	Type     string
	Format   string
	Required bool
}

// Operation describes one route. Request and Response name component
// schemas registered with AddSchema; an empty Request means no body.
type Operation struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Tag         string
	Roles       []string
	Params      []Param
	Request     string
	Response    string
}

// Generator builds an OpenAPI 3.0 document from registered operations.
type Generator struct {
	title   string
	version string
	baseURL string
	ops     []Operation
	schemas map[string]interface{}
}

func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{
		title:   title,
		version: version,
		baseURL: baseURL,
		schemas: map[string]interface{}{"Error": errorSchema()},
	}
}

func (g *Generator) AddOperation(op Operation) { g.ops = append(g.ops, op) }

// AddSchema registers the schema of v's type under name. v must be a struct
// or a pointer to one.
func (g *Generator) AddSchema(name string, v interface{}) {
	g.schemas[name] = SchemaFor(reflect.TypeOf(v))
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]map[string]interface{})
	for _, op := range g.ops {
		item, ok := paths[op.Path]
		if !ok {
			item = make(map[string]interface{})
			paths[op.Path] = item
		}
		item[strings.ToLower(op.Method)] = g.buildOperation(op)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{{"url": g.baseURL}},
		"paths":   paths,
		"components": map[string]interface{}{
			"schemas": g.schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func (g *Generator) buildOperation(op Operation) map[string]interface{} {
	out := map[string]interface{}{
		"operationId": op.OperationID,
		"summary":     op.Summary,
		"tags":        []string{op.Tag},
		"responses": map[string]interface{}{
			"200": jsonResponse("Success", op.Response),
			"400": jsonResponse("Invalid request", "Error"),
			"401": jsonResponse("Missing or invalid token", "Error"),
			"403": jsonResponse("Caller lacks a required role", "Error"),
			"429": jsonResponse("Rate limit exceeded", "Error"),
		},
	}
	if len(op.Roles) > 0 {
		out["x-required-roles"] = op.Roles
	}
	if len(op.Params) > 0 {
		params := make([]map[string]interface{}, 0, len(op.Params))
		for _, p := range op.Params {
			schema := map[string]string{"type": p.Type}
			if p.Format != "" {
				schema["format"] = p.Format
			}
			params = append(params, map[string]interface{}{
				"name":     p.Name,
				"in":       p.In,
				"required": p.Required,
				"schema":   schema,
			})
		}
		out["parameters"] = params
	}
	if op.Request != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": ref(op.Request)},
			},
		}
	}
	return out
}

func jsonResponse(description, schema string) map[string]interface{} {
	resp := map[string]interface{}{"description": description}
	if schema != "" {
		resp["content"] = map[string]interface{}{
			"application/json": map[string]interface{}{"schema": ref(schema)},
		}
	}
	return resp
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]string{"type": "string"},
		},
	}
}

var (
	timeType = reflect.TypeOf(time.Time{})
	// [16]byte identifiers such as uuid.UUID
	uuidKind = reflect.TypeOf([16]byte{})
)

// SchemaFor derives a JSON schema from a Go type using its json tags.
// Fields tagged "-" are skipped and omitempty fields are optional.
func SchemaFor(t reflect.Type) map[string]interface{} {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return map[string]interface{}{"type": "string", "format": "date-time"}
	case t.Kind() == reflect.Array && t.ConvertibleTo(uuidKind):
		return map[string]interface{}{"type": "string", "format": "uuid"}
	}

	switch t.Kind() {
	case reflect.Bool:
		return map[string]interface{}{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]interface{}{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]interface{}{"type": "number"}
	case reflect.String:
		return map[string]interface{}{"type": "string"}
	case reflect.Slice, reflect.Array:
		return map[string]interface{}{"type": "array", "items": SchemaFor(t.Elem())}
	case reflect.Map:
		return map[string]interface{}{"type": "object", "additionalProperties": SchemaFor(t.Elem())}
	case reflect.Struct:
		return structSchema(t)
	default:
		return map[string]interface{}{}
	}
}

func structSchema(t reflect.Type) map[string]interface{} {
	props := make(map[string]interface{})
	var required []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" {
			if embedded, ok := SchemaFor(f.Type)["properties"].(map[string]interface{}); ok {
				for k, v := range embedded {
					props[k] = v
				}
			}
			continue
		}
		if name == "" {
			name = f.Name
		}
		props[name] = SchemaFor(f.Type)
		if !strings.Contains(opts, "omitempty") && f.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}

const docsCSP = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com; " +
	"style-src 'self' https://unpkg.com; img-src 'self' data:; frame-ancestors 'none'"

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>API Documentation</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "openapi.json", dom_id: "#swagger-ui" })
  </script>
</body>
</html>`

// RegisterRoutes serves the document and a Swagger UI page.
func (g *Generator) RegisterRoutes(group *echo.Group) {
	group.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	group.GET("/docs", func(c echo.Context) error {
		c.Response().Header().Set("Content-Security-Policy", docsCSP)
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
