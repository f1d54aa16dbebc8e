package middleware

import (
	"fmt"

	pkgError "github.com/AzielCF/az-offline/pkg/error"
	"github.com/AzielCF/az-offline/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Recovery turns handler panics into the JSON envelope. Typed errors keep
// their status and code.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			res := utils.ResponseData{
				Status:  500,
				Code:    "INTERNAL_SERVER_ERROR",
				Message: fmt.Sprintf("%v", err),
			}

			if generic, ok := err.(pkgError.GenericError); ok {
				res.Status = generic.StatusCode()
				res.Code = generic.ErrCode()
				res.Message = generic.Error()
			}

			entry := logrus.WithFields(logrus.Fields{
				"path":       ctx.Path(),
				"request_id": ctx.GetRespHeader(fiber.HeaderXRequestID),
			})
			if res.Status >= 500 {
				entry.Errorf("[REST] Panic recovered: %v", err)
			} else {
				entry.Debugf("[REST] %s: %s", res.Code, res.Message)
			}

			_ = ctx.Status(res.Status).JSON(res)
		}()

		return ctx.Next()
	}
}
