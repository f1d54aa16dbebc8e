package rest

import (
	"net/http"
	"strings"

	domainOffline "github.com/AzielCF/az-offline/domains/offline"
	"github.com/AzielCF/az-offline/offline"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/AzielCF/az-offline/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// Headers fiber manages itself or that only describe the upstream hop.
var skipResponseHeaders = map[string]bool{
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Server":            true,
	"Date":              true,
}

var skipRequestHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

type Proxy struct {
	Service   domainOffline.IOfflineUsecase
	Upstreams *offline.Upstreams
	BasePath  string
}

// InitRestProxy sends every remaining path through the offline layer. It must
// be registered after the admin routes.
func InitRestProxy(app fiber.Router, basePath string, service domainOffline.IOfflineUsecase, upstreams *offline.Upstreams) Proxy {
	handler := Proxy{Service: service, Upstreams: upstreams, BasePath: basePath}
	app.All(basePath+"/*", handler.Forward)
	return handler
}

func (h *Proxy) Forward(c *fiber.Ctx) error {
	path := strings.TrimPrefix(c.Path(), h.BasePath)
	target, ok := h.Upstreams.Resolve(path, string(c.Request().URI().QueryString()))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(utils.ResponseData{
			Status:  404,
			Code:    "NO_UPSTREAM",
			Message: "no upstream mounted for " + c.Path(),
		})
	}

	req := &request.Request{
		Method: c.Method(),
		URL:    target,
		Header: http.Header{},
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := http.CanonicalHeaderKey(string(key))
		if !skipRequestHeaders[k] {
			req.Header.Add(k, string(value))
		}
	})

	resp := h.Service.Fetch(c.UserContext(), req)

	for k, vals := range resp.Header {
		if skipResponseHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vals {
			c.Response().Header.Add(k, v)
		}
	}
	c.Set("X-Offline-Source", string(resp.Source))
	if resp.Class != "" {
		c.Set("X-Offline-Class", string(resp.Class))
	}
	return c.Status(resp.Status).Send(resp.Body)
}
