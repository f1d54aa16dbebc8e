package validations

import (
	"context"
	"net/http"
	"strings"

	domainOffline "github.com/AzielCF/az-offline/domains/offline"
	pkgError "github.com/AzielCF/az-offline/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

func ValidateInstall(ctx context.Context, request domainOffline.InstallRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Version, validation.Required, validation.Min(1)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateEnqueue(ctx context.Context, request domainOffline.EnqueueRequest) error {
	request.Method = strings.ToUpper(request.Method)
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Method, validation.Required,
			validation.In(http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)),
		validation.Field(&request.URL, validation.Required, is.URL),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateResourceName(ctx context.Context, name string) error {
	err := validation.ValidateWithContext(ctx, name,
		validation.Required,
		validation.Length(1, 128),
		validation.Match(resourceNamePattern),
	)

	if err != nil {
		return pkgError.ValidationError("name: " + err.Error())
	}

	return nil
}
