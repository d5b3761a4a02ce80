package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/pkg/secretbox"
	"github.com/AzielCF/az-wap/pkg/workerpool"
	domain "github.com/AzielCF/az-wap/store/domain"
	"github.com/AzielCF/az-wap/store/gormstore"
)

func testWhatsAppConfig() *config.WhatsAppConfig {
	return &config.WhatsAppConfig{BaseURL: "http://127.0.0.1:1", ProviderHeader: "D360-API-KEY"}
}

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

func TestHandleWebhook_NestedShapeCreatesConversationAndMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	integ, err := store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-1", Mode: domain.ModeSandbox, TesterMSISDN: "+15551234567",
	})
	require.NoError(t, err)

	pool := workerpool.New(2, 10)
	pool.Start(ctx)
	defer pool.Stop()

	h := New(store, pool, testWhatsAppConfig())
	body := []byte(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"id": "wamid.ABC", "from": "+1 555 123 4567", "timestamp": "1700000000", "type": "text", "text": {"body": "hello there"}}
		]}}]}]
	}`)

	h.HandleWebhook(ctx, body)

	conv, err := store.LatestConversationByWaID(ctx, integ.ID, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, conv.Status)

	latest, err := store.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", latest.Text)
	assert.Equal(t, domain.DirectionIn, latest.Direction)
	assert.Equal(t, "wamid.ABC", latest.ProviderMsgID)
}

func TestHandleWebhook_FlatShapeDeduplicatesRetries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	_, err = store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-1", Mode: domain.ModeSandbox, TesterMSISDN: "+15559876543",
	})
	require.NoError(t, err)

	pool := workerpool.New(2, 10)
	pool.Start(ctx)
	defer pool.Stop()

	h := New(store, pool, testWhatsAppConfig())
	body := []byte(`{"messages": [
		{"id": "wamid.DUP", "from": "+15559876543", "timestamp": "1700000001", "type": "text", "text": {"body": "retry me"}}
	]}`)

	h.HandleWebhook(ctx, body)
	h.HandleWebhook(ctx, body)

	conv, err := store.LatestConversationByWaID(ctx, mustIntegrationID(t, store, ctx), "+15559876543")
	require.NoError(t, err)
	count, err := store.MessageCount(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func mustIntegrationID(t *testing.T, store domain.Store, ctx context.Context) string {
	t.Helper()
	integ, err := store.FindIntegrationByTester(ctx, "+15559876543")
	require.NoError(t, err)
	return integ.ID
}

func TestHandleWebhook_UnknownContactDropsSilently(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pool := workerpool.New(2, 10)
	pool.Start(ctx)
	defer pool.Stop()

	h := New(store, pool, testWhatsAppConfig())
	body := []byte(`{"messages": [{"id": "wamid.UNK", "from": "+19999999999", "type": "text", "text": {"body": "hi"}}]}`)

	assert.NotPanics(t, func() { h.HandleWebhook(ctx, body) })
}

func TestHandleWebhook_NonTextKindRecordsReferencePlaceholder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.EnsureTenant(ctx, "tenant-1", "Acme")
	require.NoError(t, err)
	integ, err := store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID: "tenant-1", Mode: domain.ModeSandbox, TesterMSISDN: "+15550001111",
	})
	require.NoError(t, err)

	pool := workerpool.New(2, 10)
	pool.Start(ctx)
	defer pool.Stop()

	h := New(store, pool, testWhatsAppConfig())
	body := []byte(`{"messages": [
		{"id": "wamid.IMG", "from": "+15550001111", "type": "image", "image": {"id": "media-42", "caption": "look"}}
	]}`)

	h.HandleWebhook(ctx, body)

	conv, err := store.LatestConversationByWaID(ctx, integ.ID, "+15550001111")
	require.NoError(t, err)
	latest, err := store.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindImage, latest.Kind)
	assert.Contains(t, latest.Text, "media-42")

	time.Sleep(10 * time.Millisecond) // let the enqueued evaluate job drain harmlessly
}
