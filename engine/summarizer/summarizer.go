// Package summarizer maintains the per-conversation incremental
// summary the evaluator and reply generator read (spec.md §4.7).
package summarizer

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/AzielCF/az-wap/store/domain"

	"github.com/AzielCF/az-wap/gateway/llm"
)

const (
	chatTemperature = 0.3
	chatMaxTokens   = 800
)

type Summarizer struct {
	store domain.Store
}

func New(store domain.Store) *Summarizer {
	return &Summarizer{store: store}
}

// Refresh recomputes the Summary if the conversation has accrued new
// messages since the last snapshot; otherwise it returns the existing
// one unchanged. llmClient is the caller's tenant-scoped LLM client.
func (s *Summarizer) Refresh(ctx context.Context, conv domain.Conversation, llmClient *llm.Client, model domain.LLMModelTier) (domain.Summary, error) {
	existing, hasExisting, err := s.store.GetSummary(ctx, conv.ID)
	if err != nil {
		return domain.Summary{}, err
	}

	snapshot := 0
	if hasExisting {
		snapshot = existing.MsgCountAtSnapshot
	}

	tail, err := s.store.MessagesAfter(ctx, conv.ID, snapshot)
	if err != nil {
		return domain.Summary{}, err
	}
	if len(tail) == 0 && hasExisting {
		return existing, nil
	}

	msgCount, err := s.store.MessageCount(ctx, conv.ID)
	if err != nil {
		return domain.Summary{}, err
	}

	prompt := buildPrompt(existing.Content, tail)
	content, err := llmClient.Chat(ctx, llm.ChatRequest{
		SystemPrompt: "You maintain a concise running summary of a sales conversation for internal use.",
		History:      []llm.ChatTurn{{Role: "user", Text: prompt}},
		Model:        model,
		Temperature:  chatTemperature,
		MaxTokens:    chatMaxTokens,
	})
	if err != nil {
		return domain.Summary{}, err
	}

	return s.store.UpsertSummary(ctx, conv.ID, content, msgCount)
}

func buildPrompt(priorSummary string, tail []domain.Message) string {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Prior summary:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages since the prior summary:\n")
	for _, m := range tail {
		sender := "Client"
		if m.Direction == domain.DirectionOut {
			sender = "Sales Engineer"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z"), sender, m.Text)
	}
	b.WriteString("\nWrite an updated summary covering the whole conversation so far, in a few sentences.")
	return b.String()
}
