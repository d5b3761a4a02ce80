// Package ingress implements the inbound WhatsApp webhook handler
// (spec.md §4.6): parse the provider event, route it to an Integration,
// upsert the conversation, record the message at-most-once, and
// enqueue an evaluation job for the owning tenant.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/engine/evaluator"
	"github.com/AzielCF/az-wap/engine/reply"
	"github.com/AzielCF/az-wap/pkg/phone"
	"github.com/AzielCF/az-wap/pkg/workerpool"
	domain "github.com/AzielCF/az-wap/store/domain"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

// Handler owns ingress's dependencies: the store to write into, the
// pool to enqueue evaluation/reply jobs on, and the two engine
// components that second loop runs.
type Handler struct {
	store domain.Store
	pool  *workerpool.Pool
	eval  *evaluator.Evaluator
	reply *reply.Generator
}

func New(store domain.Store, pool *workerpool.Pool, waCfg *config.WhatsAppConfig) *Handler {
	return &Handler{
		store: store,
		pool:  pool,
		eval:  evaluator.New(store),
		reply: reply.New(store, waCfg),
	}
}

// rawMessage models one provider message element loosely enough to
// cover every kind spec.md §3 recognizes; per-kind payloads are parsed
// lazily from Extra so kinds the provider adds later don't break
// decoding.
type rawMessage struct {
	ID        string
	From      string
	Timestamp string
	Type      string
	Text      *textPayload
	Extra     json.RawMessage
}

// UnmarshalJSON captures the known fields plus the whole object, so a
// non-text kind's nested payload (image/audio/.../sticker) can still be
// read for its media reference without a struct field per kind.
func (m *rawMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID        string       `json:"id"`
		From      string       `json:"from"`
		Timestamp string       `json:"timestamp"`
		Type      string       `json:"type"`
		Text      *textPayload `json:"text,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.ID, m.From, m.Timestamp, m.Type, m.Text = a.ID, a.From, a.Timestamp, a.Type, a.Text
	m.Extra = append(json.RawMessage(nil), data...)
	return nil
}

type textPayload struct {
	Body string `json:"body"`
}

type mediaRefPayload struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []rawMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
	Messages []rawMessage `json:"messages"`
}

// HandleWebhook parses body (nested or flat provider shape) and
// processes every message element. Per-message failures are isolated,
// logged, and never returned to the caller: the transport layer must
// always answer the provider with 200 (spec.md §6/§7).
func (h *Handler) HandleWebhook(ctx context.Context, body []byte) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logrus.WithError(err).Warn("[INGRESS] malformed webhook body, dropping")
		return
	}

	messages := payload.Messages
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			messages = append(messages, change.Value.Messages...)
		}
	}

	for _, m := range messages {
		if err := h.processMessage(ctx, m); err != nil {
			logrus.WithError(err).Warnf("[INGRESS] dropping message %q", m.ID)
		}
	}
}

func (h *Handler) processMessage(ctx context.Context, m rawMessage) error {
	e164, ok := phone.ToE164(m.From)
	if !ok {
		return fmt.Errorf("no usable from field")
	}

	integ, err := h.store.FindIntegrationByTester(ctx, e164)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return fmt.Errorf("%w: %s", pkgerrors.ErrRoutingMiss, e164)
		}
		return err
	}

	conv, _, err := h.store.OpenOrCreateConversation(ctx, integ.ID, e164, domain.StartedByContact)
	if err != nil {
		return err
	}

	providerMsgID := m.ID
	if providerMsgID == "" {
		providerMsgID = fmt.Sprintf("in_%s_%s", e164, m.Timestamp)
	}

	kind, text := extractKindAndText(m)

	_, inserted, err := h.store.AppendInboundMessage(ctx, domain.AppendInboundInput{
		IntegrationID:  integ.ID,
		ConversationID: conv.ID,
		ProviderMsgID:  providerMsgID,
		Kind:           kind,
		Text:           text,
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrDup) {
			logrus.Infof("[INGRESS] duplicate delivery of %s, ignoring", providerMsgID)
			return nil
		}
		return err
	}
	if !inserted {
		return nil
	}

	h.enqueueEvaluateThenReply(integ.TenantID, conv.ID)
	return nil
}

func extractKindAndText(m rawMessage) (domain.MessageKind, string) {
	kind := domain.MessageKind(m.Type)
	if kind == "" {
		kind = domain.KindText
	}
	if kind == domain.KindText {
		if m.Text != nil {
			return kind, m.Text.Body
		}
		return kind, ""
	}

	ref := ""
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Extra, &fields); err == nil {
		if raw, ok := fields[string(kind)]; ok {
			var p mediaRefPayload
			if json.Unmarshal(raw, &p) == nil {
				ref = p.ID
			}
		}
	}
	return kind, fmt.Sprintf("[%s: %s]", kind, ref)
}

// enqueueEvaluateThenReply enqueues the evaluate job and, on the same
// shard so it runs strictly after, the reply check spec.md §4.9 calls
// "a second reply loop" for the conversation this message landed in.
func (h *Handler) enqueueEvaluateThenReply(tenantID, conversationID string) {
	if !h.pool.TryDispatch(workerpool.Job{
		ShardKey: tenantID,
		Kind:     "evaluate",
		Handler: func(ctx context.Context) error {
			_, err := h.eval.EvaluateTenant(ctx, tenantID)
			return err
		},
	}) {
		logrus.Warnf("[INGRESS] evaluate job dropped for tenant %s, queue full", tenantID)
		return
	}

	if !h.pool.TryDispatch(workerpool.Job{
		ShardKey: tenantID,
		Kind:     "reply",
		Handler: func(ctx context.Context) error {
			_, err := h.reply.MaybeReply(ctx, conversationID)
			return err
		},
	}) {
		logrus.Warnf("[INGRESS] reply job dropped for conversation %s, queue full", conversationID)
	}
}
