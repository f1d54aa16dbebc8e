package utils

import (
	"errors"

	pkgError "github.com/AzielCF/az-offline/pkg/error"
	"github.com/sirupsen/logrus"
)

type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded hands err to the recovery middleware. Typed errors keep their
// status; anything else becomes an internal server error.
func PanicIfNeeded(err any) {
	if err == nil {
		return
	}
	e, ok := err.(error)
	if !ok {
		panic(err)
	}
	var generic pkgError.GenericError
	if errors.As(e, &generic) {
		panic(generic)
	}
	logrus.WithError(e).Error("[REST] Unhandled error")
	panic(pkgError.InternalServerError(e.Error()))
}
