// Package evaluator classifies each of a tenant's open conversations
// and writes the resulting lifecycle transition back to Store
// (spec.md §4.8).
package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-wap/engine/summarizer"
	"github.com/AzielCF/az-wap/gateway/llm"
	domain "github.com/AzielCF/az-wap/store/domain"
)

const (
	tailSize           = 5
	evaluatingStaleAge = 5 * time.Minute
)

// EvaluationCounts tallies one evaluateTenant run, for operator
// visibility and tests (not part of any external contract).
type EvaluationCounts struct {
	Evaluated      int
	Continued      int
	ScheduledLater int
	Closed         int
	Skipped        int
	Errored        int
}

type Evaluator struct {
	store       domain.Store
	summarizer  *summarizer.Summarizer
	newLLMClient func(apiKey string) *llm.Client
}

func New(store domain.Store) *Evaluator {
	return &Evaluator{
		store:      store,
		summarizer: summarizer.New(store),
		newLLMClient: func(apiKey string) *llm.Client {
			return llm.New(apiKey)
		},
	}
}

// EvaluateTenant classifies every in-flight conversation belonging to
// tenantID. It never returns an error for a single conversation's
// failure — those are counted as Errored and logged — only for a
// failure that prevents the sweep from running at all.
func (e *Evaluator) EvaluateTenant(ctx context.Context, tenantID string) (EvaluationCounts, error) {
	var counts EvaluationCounts

	cfg, err := e.store.GetLLMConfig(ctx, tenantID)
	if err != nil {
		logrus.WithError(err).Warnf("[EVALUATOR] tenant %s has no LLMConfig, skipping", tenantID)
		return counts, nil
	}
	apiKey, err := e.store.ResolveLLMAPIKey(ctx, tenantID)
	if err != nil {
		logrus.WithError(err).Warnf("[EVALUATOR] tenant %s LLM key unavailable, skipping", tenantID)
		return counts, nil
	}

	convs, err := e.store.ConversationsForEvaluation(ctx, tenantID)
	if err != nil {
		return counts, err
	}
	if len(convs) == 0 {
		return counts, nil
	}

	llmClient := e.newLLMClient(apiKey)

	for _, conv := range convs {
		if conv.Status.IsTerminal() {
			counts.Skipped++
			continue
		}
		if err := e.evaluateOne(ctx, conv, cfg, llmClient, &counts); err != nil {
			counts.Errored++
			logrus.WithError(err).Errorf("[EVALUATOR] conversation %s failed", conv.ID)
		}
	}

	return counts, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, conv domain.Conversation, cfg domain.LLMConfig, llmClient *llm.Client, counts *EvaluationCounts) error {
	msgCount, err := e.store.MessageCount(ctx, conv.ID)
	if err != nil {
		return err
	}
	if msgCount == 0 {
		counts.Skipped++
		return nil
	}

	if err := e.store.UpdateConversationStatus(ctx, conv.ID, domain.StatusEvaluating); err != nil {
		return err
	}

	summary, err := e.summarizer.Refresh(ctx, conv, llmClient, cfg.Model)
	if err != nil {
		// Roll back out of EVALUATING so the sweep or next tick retries.
		_ = e.store.UpdateConversationStatus(ctx, conv.ID, conv.Status)
		return err
	}

	integ, err := e.store.GetIntegration(ctx, conv.IntegrationID)
	if err != nil {
		_ = e.store.UpdateConversationStatus(ctx, conv.ID, conv.Status)
		return err
	}

	tail, err := e.store.TailMessages(ctx, conv.ID, tailSize)
	if err != nil {
		_ = e.store.UpdateConversationStatus(ctx, conv.ID, conv.Status)
		return err
	}

	transcript := buildTranscript(summary.Content, tail)
	systemPrompt := buildSystemPrompt(integ)

	eval := llmClient.Classify(ctx, systemPrompt, transcript, cfg.Model)

	nextStatus := mapClassifyStatus(eval.Status)
	if err := e.store.UpdateConversationStatus(ctx, conv.ID, nextStatus); err != nil {
		return err
	}

	footer := fmt.Sprintf("%s\nStatus:%s\nConfidence:%.2f", summary.Content, eval.Status, eval.Confidence)
	if _, err := e.store.UpsertSummary(ctx, conv.ID, footer, msgCount); err != nil {
		return err
	}

	tallyStatus(counts, nextStatus)
	return nil
}

func tallyStatus(counts *EvaluationCounts, status domain.ConversationStatus) {
	counts.Evaluated++
	switch status {
	case domain.StatusContinue:
		counts.Continued++
	case domain.StatusScheduleLater:
		counts.ScheduledLater++
	case domain.StatusClosed:
		counts.Closed++
	}
}

// mapClassifyStatus implements spec.md §4.8's
// {CONTINUE, SCHEDULE_LATER, CLOSE} → {CONTINUE, SCHEDULE_LATER, CLOSED}
// mapping; a degraded-default CONTINUE also lands here.
func mapClassifyStatus(s llm.ClassifyStatus) domain.ConversationStatus {
	switch s {
	case llm.ClassifyScheduleLater:
		return domain.StatusScheduleLater
	case llm.ClassifyClose:
		return domain.StatusClosed
	default:
		return domain.StatusContinue
	}
}

func buildTranscript(summary string, tail []domain.Message) string {
	out := "Summary so far:\n" + summary + "\n\nRecent messages:\n"
	for _, m := range tail {
		sender := "Client"
		if m.Direction == domain.DirectionOut {
			sender = "Sales Engineer"
		}
		out += fmt.Sprintf("%s: %s\n", sender, m.Text)
	}
	return out
}

func buildSystemPrompt(integ domain.Integration) string {
	prompt := "You are classifying the health of a sales conversation. Respond with the requested structured fields only."
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

// SweepStaleEvaluating recovers conversations crashed mid-evaluation,
// per spec.md §7's recovery policy: the prior status is inferred from
// the summary footer's last "Status:" line, or OPEN when there is none.
// Call at startup and periodically.
func (e *Evaluator) SweepStaleEvaluating(ctx context.Context) (int, error) {
	stale, err := e.store.ListStaleEvaluating(ctx, time.Now().UTC().Add(-evaluatingStaleAge))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, conv := range stale {
		prior := domain.StatusOpen
		if summary, ok, err := e.store.GetSummary(ctx, conv.ID); err == nil && ok {
			if s, found := statusFromFooter(summary.Content); found {
				prior = s
			}
		}
		if err := e.store.UpdateConversationStatus(ctx, conv.ID, prior); err != nil {
			logrus.WithError(err).Errorf("[EVALUATOR] failed to recover stale EVALUATING conversation %s", conv.ID)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// statusFromFooter reads the "Status:<label>" line the evaluator
// appends to a conversation's summary and maps it back onto
// Conversation.status.
func statusFromFooter(content string) (domain.ConversationStatus, bool) {
	var last domain.ConversationStatus
	found := false
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "Status:") {
			continue
		}
		label := strings.TrimSpace(strings.TrimPrefix(line, "Status:"))
		switch llm.ClassifyStatus(label) {
		case llm.ClassifyContinue:
			last, found = domain.StatusContinue, true
		case llm.ClassifyScheduleLater:
			last, found = domain.StatusScheduleLater, true
		case llm.ClassifyClose:
			last, found = domain.StatusClosed, true
		}
	}
	return last, found
}
