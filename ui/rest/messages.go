package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/gateway/whatsapp"
	"github.com/AzielCF/az-wap/pkg/phone"
	domain "github.com/AzielCF/az-wap/store/domain"
	"github.com/AzielCF/az-wap/ui/utils"
)

// Messages exposes the operator-initiated send action (spec.md §6):
// an ad-hoc outbound text outside the reply/outreach engines, routed
// to the same Integration Ingress would have matched the number against.
type Messages struct {
	store       domain.Store
	cfg         *config.WhatsAppConfig
	newWAClient func(providerKey string) *whatsapp.Client
}

func InitRestMessages(app fiber.Router, store domain.Store, cfg *config.WhatsAppConfig) Messages {
	rest := Messages{
		store: store,
		cfg:   cfg,
		newWAClient: func(providerKey string) *whatsapp.Client {
			return whatsapp.New(cfg.BaseURL, cfg.ProviderHeader, providerKey)
		},
	}
	app.Post("/api/send-text", rest.SendText)
	return rest
}

type sendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendTextResult struct {
	MessageID string `json:"message_id"`
}

func (r *Messages) SendText(c *fiber.Ctx) error {
	var req sendTextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "VALIDATION_ERROR", Message: err.Error()})
	}
	if req.To == "" || req.Text == "" {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "VALIDATION_ERROR", Message: "to and text are required"})
	}
	to, ok := phone.ToE164(req.To)
	if !ok {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "VALIDATION_ERROR", Message: "to has no digits"})
	}

	ctx := c.UserContext()
	integ, err := r.store.FindIntegrationByTester(ctx, to)
	if err != nil {
		return respondError(c, err)
	}

	providerKey, err := r.store.ResolveProviderKey(ctx, integ.ID)
	if err != nil {
		return respondError(c, err)
	}

	conv, _, err := r.store.OpenOrCreateConversation(ctx, integ.ID, to, domain.StartedByAdmin)
	if err != nil {
		return respondError(c, err)
	}

	providerMsgID, err := r.newWAClient(providerKey).SendText(ctx, to, req.Text)
	if err != nil {
		return respondError(c, err)
	}

	msg, err := r.store.AppendOutboundMessage(ctx, domain.AppendOutboundInput{
		IntegrationID:  integ.ID,
		ConversationID: conv.ID,
		ProviderMsgID:  providerMsgID,
		Kind:           domain.KindText,
		Text:           req.Text,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "message sent",
		Results: sendTextResult{MessageID: msg.ID},
	})
}
