// Package api embeds the Rise control-plane OpenAPI spec so internal/docs
// can serve it without a filesystem dependency at runtime.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
