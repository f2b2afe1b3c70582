// Package defaults embeds the example configuration written by
// "kyle init".
package defaults

import _ "embed"

// ConfigYAML is the annotated example configuration.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// DotEnv lists the secrets config.example.yaml references.
//
//go:embed env.example
var DotEnv []byte
