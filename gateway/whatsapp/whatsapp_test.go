package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

func TestSendText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("D360-API-KEY"))

		var body sendTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15551234567", body.To)
		assert.Equal(t, "hi there", body.Text.Body)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(sendResponse{Messages: []struct {
			ID string `json:"id"`
		}{{ID: "wamid.XYZ"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "D360-API-KEY", "secret-key")
	id, err := c.SendText(context.Background(), "+15551234567", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "wamid.XYZ", id)
}

func TestSendText_ClassifiesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "D360-API-KEY", "wrong-key")
	_, err := c.SendText(context.Background(), "+15551234567", "hi")
	require.Error(t, err)

	var gw *pkgerrors.GatewayError
	require.ErrorAs(t, err, &gw)
	assert.True(t, func() bool {
		return gw.ErrCode() == "PROVIDER_AUTH"
	}())
}

func TestSendTemplate_ClassifiesEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "D360-API-KEY", "key")
	_, err := c.SendTemplate(context.Background(), "+15551234567", "outreach_v1", "en", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrEndpoint)
}
