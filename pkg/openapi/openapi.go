// Package openapi validates incoming admin/RAG requests against an
// embedded OpenAPI document, a direct nod to original_source's generated
// admin_api.py/rag_api.py request schemas, using getkin/kin-openapi the
// way fredcamaral-mcp-alfarrabio's cmd/openapi tool loads and works with
// an OpenAPI document.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

//go:embed spec.yaml
var specYAML []byte

// Document loads and validates the embedded OpenAPI document.
func Document() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("openapi: load embedded spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("openapi: embedded spec is invalid: %w", err)
	}
	return doc, nil
}

// Validator validates incoming requests against the embedded document
// before they reach a handler.
type Validator struct {
	router routers.Router
}

// NewValidator builds a Validator from the embedded document.
func NewValidator() (*Validator, error) {
	doc, err := Document()
	if err != nil {
		return nil, err
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: build router: %w", err)
	}
	return &Validator{router: router}, nil
}

// Middleware validates each request's method, path and body against the
// matching OpenAPI operation. Requests to paths the document does not
// describe (ambient endpoints like /healthz, /metrics) pass through
// unvalidated rather than being rejected.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			// Not every route is described by the document; let it through
			// and rely on the handler/router for 404s.
			next.ServeHTTP(w, r)
			return
		}

		requestValidationInput := &openapi3filter.RequestValidationInput{
			Request:     r,
			PathParams:  pathParams,
			Route:       route,
			QueryParams: r.URL.Query(),
		}
		if err := openapi3filter.ValidateRequest(context.Background(), requestValidationInput); err != nil {
			http.Error(w, fmt.Sprintf("request does not match API schema: %v", err), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
