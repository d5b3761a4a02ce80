// Package dispatcher generates and sends periodic outreach messages to
// conversations eligible for a nudge (spec.md §4.11).
package dispatcher

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/gateway/llm"
	"github.com/AzielCF/az-wap/gateway/whatsapp"
	domain "github.com/AzielCF/az-wap/store/domain"
)

const (
	chatTemperature = 0.7
	chatMaxTokens   = 200
)

const defaultOutreachPrompt = "You are a sales engineer checking in on a quiet WhatsApp conversation. Write one short, friendly outreach message inviting the client to continue. Do not mention that you are an AI."

// Dispatcher owns the outreach loop's dependencies, one per process.
type Dispatcher struct {
	store        domain.Store
	cfg          *config.WhatsAppConfig
	newLLMClient func(apiKey string) *llm.Client
	newWAClient  func(providerKey string) *whatsapp.Client
}

func New(store domain.Store, cfg *config.WhatsAppConfig) *Dispatcher {
	return &Dispatcher{
		store: store,
		cfg:   cfg,
		newLLMClient: func(apiKey string) *llm.Client {
			return llm.New(apiKey)
		},
		newWAClient: func(providerKey string) *whatsapp.Client {
			return whatsapp.New(cfg.BaseURL, cfg.ProviderHeader, providerKey)
		},
	}
}

// Counts tallies one dispatchTenant run for the caller's logging.
type Counts struct {
	Sent    int
	Skipped int
	Errored int
}

// DispatchTenant implements C11: for every Integration of tenantID,
// reach the most recently active eligible Conversation (if any) with
// one outreach message. It never mutates Conversation.status — that
// remains the Evaluator's responsibility on the next cycle.
func (d *Dispatcher) DispatchTenant(ctx context.Context, tenantID string) (Counts, error) {
	var counts Counts

	apiKey, err := d.store.ResolveLLMAPIKey(ctx, tenantID)
	if err != nil {
		logrus.WithError(err).Warnf("[DISPATCHER] tenant %s LLM key unavailable, skipping", tenantID)
		return counts, nil
	}
	llmCfg, err := d.store.GetLLMConfig(ctx, tenantID)
	if err != nil {
		logrus.WithError(err).Warnf("[DISPATCHER] tenant %s has no LLMConfig, skipping", tenantID)
		return counts, nil
	}

	integs, err := d.store.ListIntegrationsByTenant(ctx, tenantID)
	if err != nil {
		return counts, err
	}

	llmClient := d.newLLMClient(apiKey)

	for _, integ := range integs {
		if err := d.dispatchOne(ctx, integ, llmCfg, llmClient, &counts); err != nil {
			counts.Errored++
			logrus.WithError(err).Errorf("[DISPATCHER] integration %s failed", integ.ID)
		}
	}

	return counts, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, integ domain.Integration, llmCfg domain.LLMConfig, llmClient *llm.Client, counts *Counts) error {
	conv, ok, err := d.store.LatestEligibleForOutreach(ctx, integ.ID)
	if err != nil {
		return err
	}
	if !ok {
		counts.Skipped++
		return nil
	}

	systemPrompt := buildOutreachPrompt(integ)
	summary, hasSummary, err := d.store.GetSummary(ctx, conv.ID)
	if err != nil {
		return err
	}
	if hasSummary {
		systemPrompt += "\nConversation summary so far: " + summary.Content
	}

	text, err := llmClient.Chat(ctx, llm.ChatRequest{
		SystemPrompt: systemPrompt,
		History:      []llm.ChatTurn{{Role: "user", Text: "Write the outreach message now."}},
		Model:        llmCfg.Model,
		Temperature:  chatTemperature,
		MaxTokens:    chatMaxTokens,
	})
	if err != nil {
		return err
	}

	providerKey, err := d.store.ResolveProviderKey(ctx, integ.ID)
	if err != nil {
		return err
	}
	waClient := d.newWAClient(providerKey)
	providerMsgID, err := waClient.SendText(ctx, conv.WaID, text)
	if err != nil {
		return fmt.Errorf("dispatcher: send to %s: %w", conv.WaID, err)
	}
	if providerMsgID == "" {
		providerMsgID = fmt.Sprintf("periodic_%s", conv.ID)
	}

	if _, err := d.store.AppendOutboundMessage(ctx, domain.AppendOutboundInput{
		IntegrationID:  integ.ID,
		ConversationID: conv.ID,
		ProviderMsgID:  providerMsgID,
		Kind:           domain.KindText,
		Text:           text,
	}); err != nil {
		return err
	}

	counts.Sent++
	return nil
}

func buildOutreachPrompt(integ domain.Integration) string {
	prompt := defaultOutreachPrompt
	if integ.ClientContext != "" {
		prompt += "\nClient context: " + integ.ClientContext
	}
	if integ.ProjectContext != "" {
		prompt += "\nProject context: " + integ.ProjectContext
	}
	if integ.CustomInstructions != "" {
		prompt += "\nInstructions: " + integ.CustomInstructions
	}
	return prompt
}
