package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONRejectsMalformedBodies(t *testing.T) {
	t.Parallel()

	type registerBody struct {
		CatalogURL string `json:"catalog_url"`
	}

	tests := map[string]string{
		"unknown field":    `{"catalog_url": "https://x.test", "surprise": true}`,
		"trailing garbage": `{"catalog_url": "https://x.test"}{"again": 1}`,
		"not json":         `catalog_url=https://x.test`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPut, "/api/sellers/seller-a", strings.NewReader(payload))
			rec := httptest.NewRecorder()

			var dst registerBody
			require.False(t, DecodeJSON(rec, req, &dst))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_json")
		})
	}
}

func TestDecodeJSONAcceptsSingleValue(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPut, "/api/sellers/seller-a",
		strings.NewReader(`{"catalog_url": "https://market.test/catalog"}`))
	rec := httptest.NewRecorder()

	var dst struct {
		CatalogURL string `json:"catalog_url"`
	}
	require.True(t, DecodeJSON(rec, req, &dst))
	assert.Equal(t, "https://market.test/catalog", dst.CatalogURL)
}

func TestWriteErrorEnvelope(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, ErrorParams{
		Code:    http.StatusNotFound,
		ErrCode: "not_found",
		Err:     assert.AnError,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t,
		`{"error":"not_found","message":"assert.AnError general error for testing"}`,
		rec.Body.String())
}
