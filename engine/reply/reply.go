// Package reply generates the sales engineer's context-aware reply to
// an inbound message on a conversation still in CONTINUE (spec.md §4.9).
package reply

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
	tailSize        = 5
	chatTemperature = 0.7
	chatMaxTokens   = 300
)

// Generator owns the reply loop's dependencies. One per process; the
// WhatsApp/LLM clients it builds are scoped per call to the
// conversation's integration and tenant credentials.
type Generator struct {
	store        domain.Store
	cfg          *config.WhatsAppConfig
	newLLMClient func(apiKey string) *llm.Client
	newWAClient  func(providerKey string) *whatsapp.Client
}

func New(store domain.Store, cfg *config.WhatsAppConfig) *Generator {
	return &Generator{
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

// Result reports what MaybeReply did, for the caller's logging.
type Result struct {
	Sent    bool
	Message domain.Message
}

// MaybeReply implements the precheck → build → chat → anti-loop
// recheck → send sequence of spec.md §4.9. A skip (wrong status, stale
// direction, empty LLM config) is not an error.
func (g *Generator) MaybeReply(ctx context.Context, conversationID string) (Result, error) {
	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}
	if conv.Status != domain.StatusContinue {
		return Result{}, nil
	}

	latest, err := g.store.LatestMessage(ctx, conv.ID)
	if err != nil {
		return Result{}, err
	}
	if latest.Direction != domain.DirectionIn {
		return Result{}, nil
	}

	integ, err := g.store.GetIntegration(ctx, conv.IntegrationID)
	if err != nil {
		return Result{}, err
	}

	apiKey, err := g.store.ResolveLLMAPIKey(ctx, integ.TenantID)
	if err != nil {
		logrus.WithError(err).Warnf("[REPLY] tenant %s LLM key unavailable, skipping conversation %s", integ.TenantID, conv.ID)
		return Result{}, nil
	}
	llmCfg, err := g.store.GetLLMConfig(ctx, integ.TenantID)
	if err != nil {
		logrus.WithError(err).Warnf("[REPLY] tenant %s has no LLMConfig, skipping conversation %s", integ.TenantID, conv.ID)
		return Result{}, nil
	}

	tail, err := g.store.TailMessages(ctx, conv.ID, tailSize)
	if err != nil {
		return Result{}, err
	}
	summary, hasSummary, err := g.store.GetSummary(ctx, conv.ID)
	if err != nil {
		return Result{}, err
	}

	systemPrompt := buildSystemPrompt(integ)
	if hasSummary {
		systemPrompt += "\nConversation summary so far: " + summary.Content
	}

	llmClient := g.newLLMClient(apiKey)
	text, err := llmClient.Chat(ctx, llm.ChatRequest{
		SystemPrompt: systemPrompt,
		History:      buildHistory(tail),
		Model:        llmCfg.Model,
		Temperature:  chatTemperature,
		MaxTokens:    chatMaxTokens,
	})
	if err != nil {
		return Result{}, err
	}

	// Anti-loop recheck: another worker may have already replied while
	// this job was waiting on the LLM call.
	recheck, err := g.store.LatestMessage(ctx, conv.ID)
	if err != nil {
		return Result{}, err
	}
	if recheck.Direction != domain.DirectionIn {
		logrus.Infof("[REPLY] conversation %s already replied to concurrently, skipping", conv.ID)
		return Result{}, nil
	}

	providerKey, err := g.store.ResolveProviderKey(ctx, integ.ID)
	if err != nil {
		return Result{}, err
	}
	waClient := g.newWAClient(providerKey)
	providerMsgID, err := waClient.SendText(ctx, conv.WaID, text)
	if err != nil {
		return Result{}, fmt.Errorf("reply: send to %s: %w", conv.WaID, err)
	}
	if providerMsgID == "" {
		providerMsgID = fmt.Sprintf("ai_reply_%s", conv.ID)
	}

	msg, err := g.store.AppendOutboundMessage(ctx, domain.AppendOutboundInput{
		IntegrationID:  integ.ID,
		ConversationID: conv.ID,
		ProviderMsgID:  providerMsgID,
		Kind:           domain.KindText,
		Text:           text,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Sent: true, Message: msg}, nil
}

func buildHistory(tail []domain.Message) []llm.ChatTurn {
	out := make([]llm.ChatTurn, 0, len(tail))
	for _, m := range tail {
		role := "user"
		if m.Direction == domain.DirectionOut {
			role = "assistant"
		}
		out = append(out, llm.ChatTurn{Role: role, Text: m.Text})
	}
	return out
}

const defaultSystemPrompt = "You are a sales engineer replying to a WhatsApp conversation. Be concise and helpful."

func buildSystemPrompt(integ domain.Integration) string {
	prompt := defaultSystemPrompt
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
