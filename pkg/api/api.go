// Package api embeds the OpenAPI description of the HTTP server.
//
//nolint:revive // standard package name
package api

import _ "embed"

// OpenAPISpec contains the raw bytes of the OpenAPI YAML file.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
