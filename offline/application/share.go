package application

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/AzielCF/az-offline/offline/domain/request"
)

var shareFields = []string{"title", "text", "url"}

// ShareTarget turns an inbound share into a redirect to the application.
type ShareTarget struct {
	entryPoint string
}

func NewShareTarget(entryPoint string) *ShareTarget {
	if entryPoint == "" {
		entryPoint = "/"
	}
	return &ShareTarget{entryPoint: entryPoint}
}

// Handle never fails; missing fields become empty strings.
func (s *ShareTarget) Handle(req *request.Request) *request.Response {
	in := url.Values{}
	if req != nil && req.URL != nil {
		in = req.URL.Query()
	}

	out := url.Values{}
	for _, f := range shareFields {
		out.Set(f, in.Get(f))
	}

	sep := "?"
	if strings.Contains(s.entryPoint, "?") {
		sep = "&"
	}
	h := http.Header{}
	h.Set("Location", s.entryPoint+sep+out.Encode())
	h.Set("Cache-Control", "no-store")

	return &request.Response{
		Status: http.StatusSeeOther,
		Header: h,
		Source: request.SourceRedirect,
		Class:  request.ClassShareTarget,
	}
}
