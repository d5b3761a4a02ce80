package domain

import (
	"context"
	"time"
)

// Store is the persistence contract every engine component consumes.
// It is not a public API — it is the seam between domain logic and
// storage, implemented by store/gormstore.
type Store interface {
	// Tenants / Integrations / LLMConfig

	UpsertIntegration(ctx context.Context, in UpsertIntegrationInput) (Integration, error)
	FindIntegrationByTester(ctx context.Context, msisdn string) (Integration, error)
	GetIntegration(ctx context.Context, id string) (Integration, error)
	ListIntegrationsByTenant(ctx context.Context, tenantID string) ([]Integration, error)

	GetLLMConfig(ctx context.Context, tenantID string) (LLMConfig, error)
	UpsertLLMConfig(ctx context.Context, cfg LLMConfig, apiKeyPlain string) (LLMConfig, error)

	GetTenant(ctx context.Context, id string) (Tenant, error)
	EnsureTenant(ctx context.Context, id, name string) (Tenant, error)

	// ResolveProviderKey opens an Integration's sealed provider key.
	// Callers must treat a returned error (ErrCryptoTamper/ErrCryptoNotReady)
	// as "no key available" — never retry with the ciphertext as plaintext.
	ResolveProviderKey(ctx context.Context, integrationID string) (string, error)

	// ResolveLLMAPIKey opens a tenant's sealed LLM API key.
	ResolveLLMAPIKey(ctx context.Context, tenantID string) (string, error)

	// Conversations

	OpenOrCreateConversation(ctx context.Context, integrationID, waID string, startedBy ConversationStartedBy) (Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	LatestConversationByWaID(ctx context.Context, integrationID, waID string) (Conversation, error)
	UpdateConversationStatus(ctx context.Context, id string, status ConversationStatus) error
	CloseConversation(ctx context.Context, id string) error
	ConversationsForEvaluation(ctx context.Context, tenantID string) ([]Conversation, error)
	LatestEligibleForOutreach(ctx context.Context, integrationID string) (Conversation, bool, error)
	ListStaleEvaluating(ctx context.Context, olderThan time.Time) ([]Conversation, error)

	// Messages

	AppendInboundMessage(ctx context.Context, in AppendInboundInput) (Message, bool, error)
	AppendOutboundMessage(ctx context.Context, in AppendOutboundInput) (Message, error)
	LatestMessage(ctx context.Context, conversationID string) (Message, error)
	MessagesAfter(ctx context.Context, conversationID string, afterIndex int) ([]Message, error)
	MessageCount(ctx context.Context, conversationID string) (int, error)
	TailMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Summaries

	GetSummary(ctx context.Context, conversationID string) (Summary, bool, error)
	UpsertSummary(ctx context.Context, conversationID, content string, msgCount int) (Summary, error)

	// Schedules

	GetSchedule(ctx context.Context, tenantID string) (Schedule, bool, error)
	UpsertSchedule(ctx context.Context, s Schedule) (Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]Tenant, error)
	AdvanceScheduleLastSent(ctx context.Context, tenantID string, prior *time.Time, now time.Time) (bool, error)
}

// UpsertIntegrationInput carries a plaintext key at write time only;
// Store seals it and never returns the plaintext.
type UpsertIntegrationInput struct {
	TenantID           string
	Mode               IntegrationMode
	ProviderKeyPlain   string // zeroed by the caller after this call returns
	TesterMSISDN       string
	ClientContext      string
	ProjectContext     string
	CustomInstructions string
}

type AppendInboundInput struct {
	IntegrationID  string
	ConversationID string
	ProviderMsgID  string
	Kind           MessageKind
	Text           string
	Payload        []byte
}

type AppendOutboundInput struct {
	IntegrationID  string
	ConversationID string
	ProviderMsgID  string // fabricated by the caller when the gateway returned none
	Kind           MessageKind
	Text           string
	Payload        []byte
}
