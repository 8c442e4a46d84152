package swagger

import _ "embed"

// OpenAPI is the wind-farm API description served at /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte
