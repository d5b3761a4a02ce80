package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/gateway/llm"
	"github.com/AzielCF/az-wap/gateway/whatsapp"
	"github.com/AzielCF/az-wap/pkg/secretbox"
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

func fakeChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "` + reply + `"}}]
		}`))
	}))
}

func fakeWhatsAppServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.outreach"}]}`))
	}))
}

func testWhatsAppConfig(baseURL string) *config.WhatsAppConfig {
	return &config.WhatsAppConfig{BaseURL: baseURL, ProviderHeader: "D360-API-KEY"}
}

func TestDispatchTenant_SendsToEligibleConversationSkipsContinue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	_, err = store.UpsertLLMConfig(ctx, domain.LLMConfig{TenantID: "tenant-1", Model: domain.ModelAccurate, Temperature: 0.5, MaxTokens: 500}, "llm-key")
	require.NoError(t, err)
	integ, err := store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-1", Mode: domain.ModeSandbox, ProviderKeyPlain: "provider-key",
	})
	require.NoError(t, err)

	engaged, _, err := store.OpenOrCreateConversation(ctx, integ.ID, "+15551111111", domain.StartedByContact)
	require.NoError(t, err)
	require.NoError(t, store.UpdateConversationStatus(ctx, engaged.ID, domain.StatusContinue))

	quiet, _, err := store.OpenOrCreateConversation(ctx, integ.ID, "+15552222222", domain.StartedByContact)
	require.NoError(t, err)
	require.NoError(t, store.UpdateConversationStatus(ctx, quiet.ID, domain.StatusScheduleLater))

	llmSrv := fakeChatServer(t, "Hey! Just checking in, still interested?")
	defer llmSrv.Close()
	waSrv := fakeWhatsAppServer(t)
	defer waSrv.Close()

	d := New(store, testWhatsAppConfig(waSrv.URL))
	d.newLLMClient = func(apiKey string) *llm.Client { return llm.New(apiKey, option.WithBaseURL(llmSrv.URL)) }
	d.newWAClient = func(providerKey string) *whatsapp.Client { return whatsapp.New(waSrv.URL, "D360-API-KEY", providerKey) }

	counts, err := d.DispatchTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sent)

	got, err := store.GetConversation(ctx, quiet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduleLater, got.Status, "dispatcher must not mutate status")

	latest, err := store.LatestMessage(ctx, quiet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOut, latest.Direction)
	assert.Equal(t, "Hey! Just checking in, still interested?", latest.Text)

	_, err = store.LatestMessage(ctx, engaged.ID)
	assert.Error(t, err, "CONTINUE conversation must not receive outreach")
}

func TestDispatchTenant_NoEligibleConversationSkips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.EnsureTenant(ctx, "tenant-2", "NoConvs")
	require.NoError(t, err)
	_, err = store.UpsertLLMConfig(ctx, domain.LLMConfig{TenantID: "tenant-2", Model: domain.ModelAccurate, Temperature: 0.5, MaxTokens: 500}, "llm-key")
	require.NoError(t, err)
	_, err = store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-2", Mode: domain.ModeSandbox, ProviderKeyPlain: "provider-key",
	})
	require.NoError(t, err)

	d := New(store, testWhatsAppConfig("http://127.0.0.1:1"))
	counts, err := d.DispatchTenant(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Sent)
	assert.Equal(t, 1, counts.Skipped)
}
