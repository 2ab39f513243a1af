// Package apidoc embeds the OpenAPI document for the trip log API.
// It is served by the HTTP server at /openapi.yaml.
package apidoc

import _ "embed"

// OpenAPI contains the raw bytes of openapi.yaml, embedded at compile time.
//
//go:embed openapi.yaml
var OpenAPI []byte
