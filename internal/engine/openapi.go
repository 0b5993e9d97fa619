package engine

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// OpenAPI Generator
// =============================================================================

// OpenAPIGenerator produces an OpenAPI 3.0 document from the engine schema.
type OpenAPIGenerator struct {
	title     string
	version   string
	resources []*Resource
	mu        sync.Mutex
	cached    *openapi3.T
}

// NewOpenAPIGenerator creates a generator for the store's resources.
func NewOpenAPIGenerator(store *Store, title, version string) *OpenAPIGenerator {
	return &OpenAPIGenerator{
		title:     title,
		version:   version,
		resources: store.Resources(),
	}
}

// Generate builds the document once and caches it.
func (g *OpenAPIGenerator) Generate() *openapi3.T {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != nil {
		return g.cached
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   g.title,
			Version: g.version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	spec.Components.Schemas["Error"] = errorSchema()
	for _, res := range g.resources {
		addResourceToSpec(spec, res)
		if res.Name == "assets" {
			addAssetEventsToSpec(spec)
		}
	}

	g.cached = spec
	return spec
}

// Handler serves the document as JSON.
func (g *OpenAPIGenerator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.Generate()); err != nil {
			http.Error(w, "failed to encode OpenAPI document", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Schema Generation
// =============================================================================

func addResourceToSpec(spec *openapi3.T, res *Resource) {
	basePath := "/api/v1/" + res.Name
	schemaName := capitalize(singularize(res.Name))

	attrs := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	for _, f := range res.Fields {
		if f.WriteOnly {
			continue
		}
		attrs.Properties[f.Name] = fieldSchema(f)
		if f.Required {
			attrs.Required = append(attrs.Required, f.Name)
		}
	}
	attrs.Properties["created_at"] = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time", ReadOnly: true}}
	attrs.Properties["updated_at"] = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time", ReadOnly: true}}

	spec.Components.Schemas[schemaName+"Attributes"] = &openapi3.SchemaRef{Value: attrs}
	spec.Components.Schemas[schemaName] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"type": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []any{res.Name}},
				},
				"id": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
				"attributes": &openapi3.SchemaRef{
					Ref: "#/components/schemas/" + schemaName + "Attributes",
				},
			},
			Required: []string{"type", "id"},
		},
	}

	tag := capitalize(res.Name)
	body := &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content: openapi3.Content{
				"application/vnd.api+json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{Ref: "#/components/schemas/" + schemaName},
				},
			},
		},
	}

	spec.Paths.Set(basePath, &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "list" + capitalize(res.Name),
			Summary:     "List " + res.Name,
			Tags:        []string{tag},
			Parameters: openapi3.Parameters{
				queryParam("page[size]", "integer"),
				queryParam("page[number]", "integer"),
				queryParam("page[offset]", "integer"),
			},
			Responses: responses(http.StatusOK, "list of "+res.Name),
		},
		Post: &openapi3.Operation{
			OperationID: "create" + schemaName,
			Summary:     "Create a " + singularize(res.Name),
			Tags:        []string{tag},
			RequestBody: body,
			Responses:   responses(http.StatusCreated, "created", http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict),
		},
	})

	spec.Paths.Set(basePath+"/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name:     "id",
					In:       "path",
					Required: true,
					Schema:   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				},
			},
		},
		Get: &openapi3.Operation{
			OperationID: "get" + schemaName,
			Summary:     "Get a " + singularize(res.Name),
			Tags:        []string{tag},
			Responses:   responses(http.StatusOK, "found", http.StatusNotFound),
		},
		Patch: &openapi3.Operation{
			OperationID: "update" + schemaName,
			Summary:     "Update a " + singularize(res.Name),
			Tags:        []string{tag},
			RequestBody: body,
			Responses:   responses(http.StatusOK, "updated", http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusConflict),
		},
		Delete: &openapi3.Operation{
			OperationID: "delete" + schemaName,
			Summary:     "Delete a " + singularize(res.Name),
			Tags:        []string{tag},
			Responses:   responses(http.StatusNoContent, "deleted", http.StatusNotFound, http.StatusConflict),
		},
	})
}

// addAssetEventsToSpec documents GET /api/v1/assets/{id}/events.
func addAssetEventsToSpec(spec *openapi3.T) {
	str := func(nullable bool) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Nullable: nullable}}
	}
	spec.Components.Schemas["AssetEvent"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"type": str(false),
				"id":   str(false),
				"attributes": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"asset_id":   str(false),
							"action":     &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []any{"create", "update"}}},
							"asset_type": str(false),
							"asset_code": str(true),
							"currency":   str(true),
							"timestamp":  str(false),
						},
					},
				},
			},
		},
	}

	resp := openapi3.NewResponse().
		WithDescription("audit trail, oldest first").
		WithJSONSchemaRef(&openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"data": &openapi3.SchemaRef{
						Value: &openapi3.Schema{
							Type:  &openapi3.Types{"array"},
							Items: &openapi3.SchemaRef{Ref: "#/components/schemas/AssetEvent"},
						},
					},
				},
			},
		})

	spec.Paths.Set("/api/v1/assets/{id}/events", &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name:     "id",
					In:       "path",
					Required: true,
					Schema:   str(false),
				},
			},
		},
		Get: &openapi3.Operation{
			OperationID: "listAssetEvents",
			Summary:     "List the audit trail of an asset",
			Tags:        []string{"Assets"},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: resp}),
				openapi3.WithStatus(http.StatusNotFound, &openapi3.ResponseRef{
					Value: openapi3.NewResponse().
						WithDescription(http.StatusText(http.StatusNotFound)).
						WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/Error"}),
				}),
			),
		},
	})
}

func fieldSchema(f Field) *openapi3.SchemaRef {
	s := &openapi3.Schema{Nullable: f.Nullable, ReadOnly: f.Internal}
	switch f.Type {
	case TypeInt, TypeRef:
		s.Type = &openapi3.Types{"integer"}
	case TypeFloat:
		s.Type = &openapi3.Types{"number"}
	case TypeBool:
		s.Type = &openapi3.Types{"boolean"}
	case TypeTimestamp:
		s.Type = &openapi3.Types{"string"}
		s.Format = "date-time"
	default:
		s.Type = &openapi3.Types{"string"}
	}
	if f.MinLen != nil {
		s.MinLength = uint64(*f.MinLen)
	}
	if f.MaxLen != nil {
		n := uint64(*f.MaxLen)
		s.MaxLength = &n
	}
	if f.Pattern != nil {
		s.Pattern = f.Pattern.String()
	}
	if f.DefaultValue != nil {
		s.Default = f.DefaultValue
	}
	if f.Type == TypeLink {
		s.Description = "code of a " + singularize(f.RefTable) + " (" + f.RefTable + "." + f.RefColumn + ")"
	}
	if f.Description != "" {
		s.Description = f.Description
	}
	return &openapi3.SchemaRef{Value: s}
}

func errorSchema() *openapi3.SchemaRef {
	str := func() *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"errors": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{
							Value: &openapi3.Schema{
								Type: &openapi3.Types{"object"},
								Properties: openapi3.Schemas{
									"status": str(),
									"title":  str(),
									"detail": str(),
								},
							},
						},
					},
				},
			},
		},
	}
}

// responses builds a response set: the success status with its description,
// followed by error statuses that all share the Error schema.
func responses(success int, description string, errorStatuses ...int) *openapi3.Responses {
	opts := []openapi3.NewResponsesOption{
		openapi3.WithStatus(success, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(description),
		}),
	}
	for _, status := range errorStatuses {
		opts = append(opts, openapi3.WithStatus(status, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription(http.StatusText(status)).
				WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/Error"}),
		}))
	}
	return openapi3.NewResponses(opts...)
}

func queryParam(name, typ string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:   name,
			In:     "query",
			Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}},
		},
	}
}

// capitalize returns the string with the first letter capitalized.
func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// singularize performs basic singularization.
func singularize(s string) string {
	if strings.HasSuffix(s, "ies") {
		return s[:len(s)-3] + "y"
	}
	if strings.HasSuffix(s, "ses") {
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "s") {
		return s[:len(s)-1]
	}
	return s
}
