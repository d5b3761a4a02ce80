package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/gateway/whatsapp"
	"github.com/AzielCF/az-wap/pkg/phone"
	domain "github.com/AzielCF/az-wap/store/domain"
	"github.com/AzielCF/az-wap/ui/utils"
)

// Integrations exposes the sandbox onboarding operator action
// (spec.md §6): wiring a provider API key and a tester number to a
// tenant's sandbox Integration.
type Integrations struct {
	store       domain.Store
	cfg         *config.WhatsAppConfig
	newWAClient func(providerKey string) *whatsapp.Client
}

func InitRestIntegrations(app fiber.Router, store domain.Store, cfg *config.WhatsAppConfig) Integrations {
	rest := Integrations{
		store: store,
		cfg:   cfg,
		newWAClient: func(providerKey string) *whatsapp.Client {
			return whatsapp.New(cfg.BaseURL, cfg.ProviderHeader, providerKey)
		},
	}
	app.Post("/integrations/sandbox/connect", rest.Connect)
	return rest
}

type connectRequest struct {
	TenantID     string `json:"tenant_id"`
	APIKey       string `json:"api_key"`
	TesterMSISDN string `json:"tester_msisdn"`
}

type connectResult struct {
	IntegrationID string `json:"integration_id"`
}

func (r *Integrations) Connect(c *fiber.Ctx) error {
	var req connectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "VALIDATION_ERROR", Message: err.Error()})
	}
	if req.TenantID == "" || req.APIKey == "" || req.TesterMSISDN == "" {
		return c.Status(400).JSON(utils.ResponseData{
			Status: 400, Code: "VALIDATION_ERROR",
			Message: "tenant_id, api_key and tester_msisdn are required",
		})
	}
	tester, ok := phone.ToE164(req.TesterMSISDN)
	if !ok {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "VALIDATION_ERROR", Message: "tester_msisdn has no digits"})
	}

	ctx := c.UserContext()
	if _, err := r.store.EnsureTenant(ctx, req.TenantID, req.TenantID); err != nil {
		return respondError(c, err)
	}

	integ, err := r.store.UpsertIntegration(ctx, domain.UpsertIntegrationInput{
		TenantID:         req.TenantID,
		Mode:             domain.ModeSandbox,
		ProviderKeyPlain: req.APIKey,
		TesterMSISDN:     tester,
	})
	if err != nil {
		// a gateway/store failure here is the 500 case spec.md §6 calls out
		return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
	}

	providerKey, err := r.store.ResolveProviderKey(ctx, integ.ID)
	if err != nil {
		return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
	}
	if err := r.newWAClient(providerKey).RegisterWebhook(ctx, r.cfg.WebhookPublic); err != nil {
		// webhook registration is a gateway failure, the other 500 case spec.md §6 calls out
		return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "sandbox integration connected",
		Results: connectResult{IntegrationID: integ.ID},
	})
}
