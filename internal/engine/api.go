package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/artpar/assetbook/internal/core/asset"
	"github.com/gorilla/mux"
)

// APIConfig configures the generic REST API.
type APIConfig struct {
	Store  *Store
	Logger *slog.Logger
}

// RegisterRoutes registers generic CRUD routes for all resources in the schema.
// Routes follow JSON:API convention: /api/v1/{resource} and /api/v1/{resource}/{id}
func RegisterRoutes(router *mux.Router, cfg APIConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	for _, res := range cfg.Store.Resources() {
		prefix := "/api/v1/" + res.Name
		r := res // capture for closures

		router.HandleFunc(prefix, listHandler(cfg, r)).Methods("GET")
		router.HandleFunc(prefix, createHandler(cfg, r)).Methods("POST")
		router.HandleFunc(prefix+"/{id}", getHandler(cfg, r)).Methods("GET")
		router.HandleFunc(prefix+"/{id}", updateHandler(cfg, r)).Methods("PATCH")
		router.HandleFunc(prefix+"/{id}", deleteHandler(cfg, r)).Methods("DELETE")

		cfg.Logger.Debug("registered routes", "resource", res.Name, "prefix", prefix)
	}
}

// =============================================================================
// Generic Handlers
// =============================================================================

func listHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authCtx := getAuthContext(r)

		page := parsePage(r)

		var filters []Filter

		// Owner scoping for private resources
		if res.Owner != "" && authCtx.Authenticated && !res.PublicRead {
			filters = append(filters, Filter{Field: res.Owner, Value: authCtx.UserID})
		}

		// filter[field]=value
		for key, values := range r.URL.Query() {
			if strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]") {
				fieldName := key[7 : len(key)-1]
				if len(values) > 0 {
					filters = append(filters, Filter{Field: fieldName, Value: values[0]})
				}
			}
		}

		rows, err := cfg.Store.List(ctx, res.Name, filters, page)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}
		total, err := cfg.Store.Count(ctx, res.Name, filters)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}

		for _, row := range rows {
			stripFields(res, row)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowsToJSONAPI(res.Name, rows),
			"meta": map[string]any{
				"total":  total,
				"limit":  page.Limit,
				"offset": page.Offset,
			},
		})
	}
}

func getHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authCtx := getAuthContext(r)
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id: "+err.Error())
			return
		}

		row, err := cfg.Store.Get(ctx, res.Name, id)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}

		if !res.PublicRead && !ownsRow(res, authCtx, row) {
			writeError(w, http.StatusNotFound, res.Name+" not found")
			return
		}

		stripFields(res, row)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

func createHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authCtx := getAuthContext(r)

		if !authCtx.Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		data, err := parseJSONAPIBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		// Remove internal fields that shouldn't be set by the client
		for _, f := range res.Fields {
			if f.Internal {
				delete(data, f.Name)
			}
		}
		if res.Owner != "" {
			data[res.Owner] = authCtx.UserID
		}

		row, err := cfg.Store.Create(ctx, res.Name, data)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}

		cfg.Logger.Info("record created", "resource", res.Name, "id", row["reference_id"])
		stripFields(res, row)
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

func updateHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authCtx := getAuthContext(r)
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id: "+err.Error())
			return
		}

		if !authCtx.Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		existing, err := cfg.Store.Get(ctx, res.Name, id)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}
		if !ownsRow(res, authCtx, existing) {
			writeError(w, http.StatusForbidden, "not authorized to modify this "+res.Name)
			return
		}

		data, err := parseJSONAPIBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		for _, f := range res.Fields {
			if f.Internal {
				delete(data, f.Name)
			}
		}

		row, err := cfg.Store.Update(ctx, res.Name, id, data)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}

		stripFields(res, row)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

func deleteHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authCtx := getAuthContext(r)
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id: "+err.Error())
			return
		}

		if !authCtx.Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		existing, err := cfg.Store.Get(ctx, res.Name, id)
		if err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}
		if !ownsRow(res, authCtx, existing) {
			writeError(w, http.StatusForbidden, "not authorized to delete this "+res.Name)
			return
		}

		if res.BeforeDelete != nil {
			if err := res.BeforeDelete(ctx, authCtx, existing); err != nil {
				writeStoreError(w, cfg.Logger, err)
				return
			}
		}

		if err := cfg.Store.Delete(ctx, res.Name, id); err != nil {
			writeStoreError(w, cfg.Logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ownsRow reports whether the caller owns the row. Rows without an owner
// value, and resources without an owner field, are owned by everyone.
func ownsRow(res *Resource, authCtx AuthContext, row map[string]any) bool {
	if res.Owner == "" {
		return true
	}
	ownerID, ok := toInt64(row[res.Owner])
	if !ok {
		return true
	}
	return authCtx.Authenticated && int(ownerID) == authCtx.UserID
}

// =============================================================================
// JSON:API Response Helpers
// =============================================================================

// rowToJSONAPI converts a map row to a JSON:API resource object.
func rowToJSONAPI(resourceType string, row map[string]any) map[string]any {
	refID, _ := row["reference_id"].(string)

	attrs := make(map[string]any)
	for k, v := range row {
		if k == "id" || k == "reference_id" {
			continue
		}
		attrs[k] = v
	}

	return map[string]any{
		"type":       resourceType,
		"id":         refID,
		"attributes": attrs,
	}
}

// rowsToJSONAPI converts multiple rows to JSON:API format.
func rowsToJSONAPI(resourceType string, rows []map[string]any) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	result := make([]map[string]any, len(rows))
	for i, row := range rows {
		result[i] = rowToJSONAPI(resourceType, row)
	}
	return result
}

// stripFields removes write-only fields from a row before sending in a response.
func stripFields(res *Resource, row map[string]any) {
	for _, f := range res.Fields {
		if f.WriteOnly {
			delete(row, f.Name)
		}
	}
	// Don't expose internal integer PK in API responses
	delete(row, "id")
}

// parseJSONAPIBody parses a JSON:API request body and returns the attributes map.
func parseJSONAPIBody(r *http.Request) (map[string]any, error) {
	var body struct {
		Data struct {
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Data.Attributes == nil {
		return nil, fmt.Errorf("missing data.attributes in request body")
	}
	return body.Data.Attributes, nil
}

// pathID returns the {id} route variable, unescaped. Routes match on the
// encoded path, so identifiers may contain "/".
func pathID(r *http.Request) (string, error) {
	return url.PathUnescape(mux.Vars(r)["id"])
}

// getAuthContext extracts AuthContext from an HTTP request.
func getAuthContext(r *http.Request) AuthContext {
	return AuthFromRequest(r)
}

// =============================================================================
// HTTP Response Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeErrorObject(w, status, map[string]any{
		"status": strconv.Itoa(status),
		"title":  http.StatusText(status),
		"detail": detail,
	})
}

func writeErrorObject(w http.ResponseWriter, status int, obj map[string]any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{obj},
	})
}

// writeStoreError maps store and rule errors to HTTP responses.
// Rule failures keep their message verbatim so it reaches the user as is.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *asset.ValidationError
	switch {
	case errors.As(err, &ve):
		status := http.StatusUnprocessableEntity
		writeErrorObject(w, status, map[string]any{
			"status": strconv.Itoa(status),
			"title":  http.StatusText(status),
			"detail": ve.Reason,
			"source": map[string]any{"pointer": "/data/attributes/" + ve.Field},
		})
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parsePage extracts pagination from query parameters.
func parsePage(r *http.Request) Page {
	p := DefaultPage()
	if v := r.URL.Query().Get("page[size]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Limit = n
		}
	}
	if v := r.URL.Query().Get("page[offset]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Offset = n
		}
	}
	if v := r.URL.Query().Get("page[number]"); v != "" {
		if pn, err := strconv.Atoi(v); err == nil && pn > 0 {
			p.Offset = (pn - 1) * p.Limit
		}
	}
	return p.Normalize()
}
