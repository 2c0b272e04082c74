// Package config loads, validates, and defaults EchoWatch configuration.
//
// Configuration is TOML and lives at ~/.config/echowatch/config.toml by
// default; a project-local echowatch.toml is honored as a fallback. All
// path fields are expanded (including ~) and normalized to absolute
// paths during load.
package config
