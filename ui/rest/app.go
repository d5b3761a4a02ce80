// Package rest wires the Fiber HTTP surface spec.md §6 describes: one
// public webhook route plus the operator action/inspection routes,
// fronted by recovery, basic-auth, and cors middleware the same way
// the teacher's cmd/rest.go configures them.
package rest

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-wap/core/config"
	"github.com/AzielCF/az-wap/ingress"
	"github.com/AzielCF/az-wap/ui/rest/middleware"
	domain "github.com/AzielCF/az-wap/store/domain"
)

const webhookPath = "/webhooks/whatsapp/provider"

// NewApp builds the Fiber app and registers every route. basicAuth is
// the parsed "user:pass" list from APP_BASIC_AUTH; callers are
// expected to refuse to start if it's empty, same as cmd/rest.go does.
func NewApp(store domain.Store, webhookHandler *ingress.Handler, waCfg *config.WhatsAppConfig, basicAuth []string, debug bool) *fiber.App {
	app := fiber.New(fiber.Config{
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.Recovery())
	if debug {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	if len(basicAuth) > 0 {
		account := make(map[string]string, len(basicAuth))
		for _, pair := range basicAuth {
			parts := strings.SplitN(pair, ":", 2)
			if len(parts) != 2 {
				logrus.Fatalln("APP_BASIC_AUTH entries must be <user>:<secret>")
			}
			account[parts[0]] = parts[1]
		}
		app.Use(basicauth.New(basicauth.Config{
			Users: account,
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions || c.Path() == webhookPath
			},
		}))
	}

	InitRestWebhook(app, webhookHandler)
	InitRestIntegrations(app, store, waCfg)
	InitRestMessages(app, store, waCfg)
	InitRestConversations(app, store)

	return app
}
