package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/gateway/whatsapp"
	"github.com/AzielCF/az-wap/ingress"
	"github.com/AzielCF/az-wap/pkg/secretbox"
	"github.com/AzielCF/az-wap/pkg/workerpool"
	domain "github.com/AzielCF/az-wap/store/domain"
	"github.com/AzielCF/az-wap/store/gormstore"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	box, err := secretbox.New("test-key")
	require.NoError(t, err)
	s := gormstore.New(db, box)
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func testWhatsAppConfig() *config.WhatsAppConfig {
	return &config.WhatsAppConfig{BaseURL: "http://127.0.0.1:1", ProviderHeader: "D360-API-KEY"}
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out))
}

func fakeWhatsAppServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
}

func TestConnect_CreatesSandboxIntegration(t *testing.T) {
	store := newTestStore(t)
	pool := workerpool.New(2, 10)
	pool.Start(context.Background())
	defer pool.Stop()

	waSrv := fakeWhatsAppServer(t)
	defer waSrv.Close()

	rest := Integrations{store: store, cfg: testWhatsAppConfig()}
	rest.newWAClient = func(providerKey string) *whatsapp.Client {
		return whatsapp.New(waSrv.URL, "D360-API-KEY", providerKey)
	}
	app := fiber.New()
	app.Post("/integrations/sandbox/connect", rest.Connect)

	body := []byte(`{"tenant_id":"tenant-1","api_key":"secret-key","tester_msisdn":"+15551234567"}`)
	req := httptest.NewRequest(http.MethodPost, "/integrations/sandbox/connect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results struct {
			IntegrationID string `json:"integration_id"`
		} `json:"results"`
	}
	decode(t, resp, &out)
	assert.NotEmpty(t, out.Results.IntegrationID)

	integ, err := store.FindIntegrationByTester(context.Background(), "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSandbox, integ.Mode)
}

func TestConnect_MissingFieldsReturns400(t *testing.T) {
	store := newTestStore(t)
	app := fiber.New()
	InitRestIntegrations(app, store, testWhatsAppConfig())

	req := httptest.NewRequest(http.MethodPost, "/integrations/sandbox/connect", bytes.NewReader([]byte(`{"tenant_id":"t1"}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetConversationByID_ReturnsTailAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	integ, err := store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-1", Mode: domain.ModeSandbox, TesterMSISDN: "+15557654321",
	})
	require.NoError(t, err)
	conv, _, err := store.OpenOrCreateConversation(ctx, integ.ID, "+15557654321", domain.StartedByContact)
	require.NoError(t, err)
	_, _, err = store.AppendInboundMessage(ctx, domain.AppendInboundInput{
		IntegrationID: integ.ID, ConversationID: conv.ID, ProviderMsgID: "wamid.1", Kind: domain.KindText, Text: "hi",
	})
	require.NoError(t, err)
	_, err = store.UpsertSummary(ctx, conv.ID, "client is interested\nStatus:CONTINUE\nConfidence:0.9", 1)
	require.NoError(t, err)

	app := fiber.New()
	InitRestConversations(app, store)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results conversationView `json:"results"`
	}
	decode(t, resp, &out)
	assert.Equal(t, conv.ID, out.Results.ID)
	require.Len(t, out.Results.Messages, 1)
	assert.Equal(t, "hi", out.Results.Messages[0].Text)
	assert.Contains(t, out.Results.Summary, "client is interested")
}

func TestGetConversationByID_UnknownIDReturns404(t *testing.T) {
	store := newTestStore(t)
	app := fiber.New()
	InitRestConversations(app, store)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/does-not-exist", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetConversationByNumber_ReturnsLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	integ, err := store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-1", Mode: domain.ModeSandbox, TesterMSISDN: "+15559990000",
	})
	require.NoError(t, err)
	conv, _, err := store.OpenOrCreateConversation(ctx, integ.ID, "+15559990000", domain.StartedByContact)
	require.NoError(t, err)

	app := fiber.New()
	InitRestConversations(app, store)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/by-number/+15559990000", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results conversationView `json:"results"`
	}
	decode(t, resp, &out)
	assert.Equal(t, conv.ID, out.Results.ID)
}

func TestWebhook_AlwaysReturns200(t *testing.T) {
	store := newTestStore(t)
	pool := workerpool.New(2, 10)
	pool.Start(context.Background())
	defer pool.Stop()

	handler := ingress.New(store, pool, testWhatsAppConfig())
	app := fiber.New()
	InitRestWebhook(app, handler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/provider", bytes.NewReader([]byte(`not even json`)))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendText_MissingFieldsReturns400(t *testing.T) {
	store := newTestStore(t)
	app := fiber.New()
	InitRestMessages(app, store, testWhatsAppConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/send-text", bytes.NewReader([]byte(`{"to":""}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendText_UnknownRecipientReturns404(t *testing.T) {
	store := newTestStore(t)
	app := fiber.New()
	InitRestMessages(app, store, testWhatsAppConfig())

	body := []byte(`{"to":"+19999999999","text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/send-text", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
