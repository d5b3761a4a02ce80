package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-wap/ingress"
)

// Webhook registers the provider-facing ingress route (spec.md §4.6):
// the handler never reports failure to the provider, so this always
// answers 200 regardless of what HandleWebhook logs internally.
type Webhook struct {
	handler *ingress.Handler
}

func InitRestWebhook(app fiber.Router, handler *ingress.Handler) Webhook {
	rest := Webhook{handler: handler}
	app.Post("/webhooks/whatsapp/provider", rest.Receive)
	return rest
}

func (r *Webhook) Receive(c *fiber.Ctx) error {
	r.handler.HandleWebhook(c.UserContext(), c.Body())
	return c.SendStatus(fiber.StatusOK)
}
