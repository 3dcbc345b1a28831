// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > YAML config >
// Environment variables > Defaults. It selects where the mirror config is
// fetched from, how fetches are retried, and which extra patch rules apply.
package config
