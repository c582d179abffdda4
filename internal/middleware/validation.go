package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/types"
)

// OpenAPIConfig controls schema validation of inbound requests.
type OpenAPIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SpecPath string `yaml:"spec_path"`
}

// OpenAPIValidator validates requests against the service's OpenAPI document
// before handlers decode them.
type OpenAPIValidator struct {
	router  routers.Router
	logger  *logrus.Logger
	enabled bool
}

// NewOpenAPIValidator loads and validates the spec document. A disabled
// validator passes everything through.
func NewOpenAPIValidator(cfg OpenAPIConfig, logger *logrus.Logger) (*OpenAPIValidator, error) {
	v := &OpenAPIValidator{logger: logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		return v, nil
	}
	if cfg.SpecPath == "" {
		cfg.SpecPath = "docs/openapi.yaml"
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(cfg.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi document invalid: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	v.router = router
	logger.WithField("spec_path", cfg.SpecPath).Info("openapi request validation enabled")
	return v, nil
}

// Middleware validates each request against the loaded document. Routes not
// present in the document (health, metrics) pass through untouched.
func (v *OpenAPIValidator) Middleware(next http.Handler) http.Handler {
	if !v.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.validate(r); err != nil {
			v.logger.WithError(err).WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("openapi validation rejected request")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			re := types.NewRouteError(types.ErrInvalidRequest, "", "request does not match the API schema")
			re.Details = err.Error()
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Success: false, Error: re})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *OpenAPIValidator) validate(r *http.Request) error {
	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("route lookup: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
	}
	if len(body) > 0 {
		input.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	err = openapi3filter.ValidateRequest(r.Context(), input)
	// Downstream handlers need the body again either way.
	r.Body = io.NopCloser(bytes.NewReader(body))
	return err
}
