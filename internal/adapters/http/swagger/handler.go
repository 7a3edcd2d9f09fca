// Package swagger serves the bot's OpenAPI document and a ReDoc viewer.
package swagger

import (
	"context"
	"errors"
	"html/template"
	"net/http"
)

// Error constants.
var (
	ErrServe = errors.New("swagger serve failed")
)

// DefaultRedocURL is the ReDoc bundle the docs page loads.
const DefaultRedocURL = "https://cdn.redoc.ly/redoc/v2.1.5/bundles/redoc.standalone.js"

// Register attaches the docs routes to mux.
//
//	GET /api-docs      -> ReDoc HTML
//	GET /openapi.yaml  -> embedded OpenAPI document
func Register(_ context.Context, mux *http.ServeMux, redocURL string) {
	if mux == nil {
		panic("mux is nil")
	}
	if redocURL == "" {
		redocURL = DefaultRedocURL
	}

	mux.HandleFunc("/api-docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmpl.Execute(w, redocURL); err != nil {
			http.Error(w, ErrServe.Error(), http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}

var indexTmpl = template.Must(template.New("redoc").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>hirebot API</title>
    <style>body{margin:0;padding:0}</style>
  </head>
  <body>
    <redoc id="redoc-container"></redoc>
    <script src="{{.}}"></script>
    <script>Redoc.init('/openapi.yaml', { suppressWarnings: true }, document.getElementById('redoc-container'));</script>
  </body>
</html>`))
