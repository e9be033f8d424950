// Package config provides configuration loading and validation for the live fact-check service.
// It reads YAML over built-in defaults, applies environment overrides for secrets and
// tool paths, and validates every section before the service starts.
package config
