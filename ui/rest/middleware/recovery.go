package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-wap/ui/utils"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

// Recovery turns a handler panic into a structured JSON body instead
// of killing the connection. A panic value satisfying GenericError
// renders with its own status/code; anything else is a bare 500.
func Recovery() fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			res := utils.ResponseData{
				Status:  500,
				Code:    "INTERNAL_SERVER_ERROR",
				Message: "internal server error",
			}
			if generic, ok := r.(pkgerrors.GenericError); ok {
				res.Status = generic.StatusCode()
				res.Code = generic.ErrCode()
				res.Message = generic.Error()
			}
			logrus.Errorf("[REST] panic recovered: %v", r)
			_ = c.Status(res.Status).JSON(res)
		}()
		return c.Next()
	}
}
