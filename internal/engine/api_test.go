package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artpar/assetbook/internal/core/asset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestHandler(t *testing.T, secret string) (http.Handler, *Store) {
	t.Helper()
	store := setupTestStore(t)
	handler := Setup(SetupConfig{
		Store:        store,
		Logger:       testLogger(),
		SharedSecret: secret,
		Version:      "test",
	})
	return handler, store
}

func doRequest(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/vnd.api+json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonAPIBody(resourceType string, attrs map[string]any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"type":       resourceType,
			"attributes": attrs,
		},
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func firstError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decodeBody(t, rec)
	errs, ok := body["errors"].([]any)
	require.True(t, ok, rec.Body.String())
	require.NotEmpty(t, errs)
	return errs[0].(map[string]any)
}

// =============================================================================
// Health Tests
// =============================================================================

func TestAPI_Health(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = doRequest(t, h, "GET", "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_OpenAPI(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "GET", "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/assets")
	assert.Contains(t, paths, "/api/v1/assets/{id}")
	assert.Contains(t, paths, "/api/v1/currencies")
	assert.Contains(t, paths, "/api/v1/assets/{id}/events")

	schemas := doc["components"].(map[string]any)["schemas"].(map[string]any)
	assert.Contains(t, schemas, "AssetEvent")
	attrs := schemas["AssetAttributes"].(map[string]any)["properties"].(map[string]any)
	typeDesc, _ := attrs["type"].(map[string]any)["description"].(string)
	for _, typ := range asset.Types() {
		assert.Contains(t, typeDesc, string(typ))
	}
}

// =============================================================================
// Create Tests
// =============================================================================

func TestAPI_CreateFiat(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "POST", "/api/v1/assets", "user_1",
		jsonAPIBody("assets", map[string]any{"type": "Fiat", "currency": "USD"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "USD", data["id"])
	attrs := data["attributes"].(map[string]any)
	assert.Equal(t, "USD", attrs["asset_code"])
	assert.Equal(t, "Fiat", attrs["type"])
}

func TestAPI_CreateRequiresAuth(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "POST", "/api/v1/assets", "",
		jsonAPIBody("assets", map[string]any{"type": "Crypto", "asset_code": "BTC"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CreateRuleFailureKeepsMessage(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	tests := []struct {
		name    string
		attrs   map[string]any
		message string
		pointer string
	}{
		{
			name:    "fiat without currency",
			attrs:   map[string]any{"type": "Fiat"},
			message: asset.MsgFiatCurrencyRequired,
			pointer: "/data/attributes/currency",
		},
		{
			name:    "crypto without code",
			attrs:   map[string]any{"type": "Crypto", "currency": "USD"},
			message: asset.MsgCryptoCodeRequired,
			pointer: "/data/attributes/asset_code",
		},
		{
			name:    "commodity without name",
			attrs:   map[string]any{"type": "Commodity", "commodity_name": ""},
			message: asset.MsgCommodityNameRequired,
			pointer: "/data/attributes/commodity_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, "POST", "/api/v1/assets", "user_1", jsonAPIBody("assets", tt.attrs))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

			e := firstError(t, rec)
			assert.Equal(t, tt.message, e["detail"])
			assert.Equal(t, tt.pointer, e["source"].(map[string]any)["pointer"])
		})
	}
}

func TestAPI_CreateUnknownCurrency(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "POST", "/api/v1/assets", "user_1",
		jsonAPIBody("assets", map[string]any{"type": "Fiat", "currency": "ZZZ"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateDuplicate(t *testing.T) {
	h, _ := setupTestHandler(t, "")
	body := jsonAPIBody("assets", map[string]any{"type": "Commodity", "commodity_name": "Silver"})

	rec := doRequest(t, h, "POST", "/api/v1/assets", "user_1", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, "POST", "/api/v1/assets", "user_1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_CreateInvalidBody(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "POST", "/api/v1/assets", "user_1", map[string]any{"data": map[string]any{"type": "assets"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Read / Update / Delete Tests
// =============================================================================

func TestAPI_GetNotFound(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "GET", "/api/v1/assets/NOPE", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListWithFilter(t *testing.T) {
	h, store := setupTestHandler(t, "")
	createAsset(t, store, map[string]any{"type": "Crypto", "asset_code": "BTC"})
	createAsset(t, store, map[string]any{"type": "Fiat", "currency": "EUR"})

	rec := doRequest(t, h, "GET", "/api/v1/assets?filter[type]=Crypto", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "BTC", data[0].(map[string]any)["id"])
	assert.EqualValues(t, 1, body["meta"].(map[string]any)["total"])
}

func TestAPI_UpdateRevalidates(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "POST", "/api/v1/assets", "user_1",
		jsonAPIBody("assets", map[string]any{"type": "Crypto", "asset_code": "XMR"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, "PATCH", "/api/v1/assets/XMR", "user_1",
		jsonAPIBody("assets", map[string]any{"asset_code": ""}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, asset.MsgCryptoCodeRequired, firstError(t, rec)["detail"])

	rec = doRequest(t, h, "PATCH", "/api/v1/assets/XMR", "user_1",
		jsonAPIBody("assets", map[string]any{"asset_name": "Monero", "currency": "USD"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	attrs := decodeBody(t, rec)["data"].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, "Monero", attrs["asset_name"])
	assert.Nil(t, attrs["currency"])
}

func TestAPI_UpdateByOtherUserForbidden(t *testing.T) {
	h, _ := setupTestHandler(t, "")

	rec := doRequest(t, h, "POST", "/api/v1/assets", "user_1",
		jsonAPIBody("assets", map[string]any{"type": "Crypto", "asset_code": "LTC"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, "PATCH", "/api/v1/assets/LTC", "user_2",
		jsonAPIBody("assets", map[string]any{"asset_name": "Litecoin"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, "DELETE", "/api/v1/assets/LTC", "user_2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, "DELETE", "/api/v1/assets/LTC", "user_1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_DeleteCurrencyInUse(t *testing.T) {
	h, store := setupTestHandler(t, "")
	createAsset(t, store, map[string]any{"type": "Fiat", "currency": "CHF"})

	rec := doRequest(t, h, "DELETE", "/api/v1/currencies/CHF", "admin", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, "DELETE", "/api/v1/currencies/KZT", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_UpdateCurrencyCodeInUse(t *testing.T) {
	h, store := setupTestHandler(t, "")
	createAsset(t, store, map[string]any{"type": "Fiat", "currency": "CHF"})

	rec := doRequest(t, h, "PATCH", "/api/v1/currencies/CHF", "admin",
		jsonAPIBody("currencies", map[string]any{"code": "CHX"}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, "PATCH", "/api/v1/currencies/CHF", "admin",
		jsonAPIBody("currencies", map[string]any{"name": "Swiss franc"}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, h, "PATCH", "/api/v1/assets/CHF", "admin",
		jsonAPIBody("assets", map[string]any{"asset_name": "Franc"}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, h, "PATCH", "/api/v1/currencies/KZT", "admin",
		jsonAPIBody("currencies", map[string]any{"code": "KZX"}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAPI_IdentifierWithSlash(t *testing.T) {
	h, store := setupTestHandler(t, "")
	row := createAsset(t, store, map[string]any{"type": "Commodity", "commodity_name": "Gold/Silver"})
	require.Equal(t, "Gold/Silver", row["reference_id"])

	rec := doRequest(t, h, "GET", "/api/v1/assets/Gold%2FSilver", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Gold/Silver", decodeBody(t, rec)["data"].(map[string]any)["id"])

	rec = doRequest(t, h, "PATCH", "/api/v1/assets/Gold%2FSilver", "user_1",
		jsonAPIBody("assets", map[string]any{"asset_name": "Electrum"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, h, "GET", "/api/v1/assets/Gold%2FSilver/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"].([]any), 2)

	rec = doRequest(t, h, "DELETE", "/api/v1/assets/Gold%2FSilver", "user_1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_AssetEvents(t *testing.T) {
	h, store := setupTestHandler(t, "")
	createAsset(t, store, map[string]any{"type": "Commodity", "commodity_name": "Copper"})

	rec := doRequest(t, h, "GET", "/api/v1/assets/Copper/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeBody(t, rec)["data"].([]any)
	require.Len(t, data, 1)
	attrs := data[0].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, "create", attrs["action"])
	assert.Equal(t, "Commodity", attrs["asset_type"])

	rec = doRequest(t, h, "GET", "/api/v1/assets/Missing/events", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestAPI_SharedSecret(t *testing.T) {
	h, _ := setupTestHandler(t, "s3cret")

	rec := doRequest(t, h, "GET", "/api/v1/currencies", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest("GET", "/api/v1/currencies", nil)
	req.Header.Set(HeaderGatewaySecret, "s3cret")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestParseJWTClaims(t *testing.T) {
	// {"uid":"user_jwt"}
	token := "eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ1c2VyX2p3dCJ9.sig"
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	claims := parseJWTClaims(req)
	require.NotNil(t, claims)
	assert.Equal(t, "user_jwt", claims.UserID)

	req.Header.Set("Authorization", "Basic abc")
	assert.Nil(t, parseJWTClaims(req))
}
