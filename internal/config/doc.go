// Package config loads the runtime configuration of the trainconf service from
// multiple sources (YAML files, environment variables, CLI flags) with
// precedence: CLI flags > YAML config > Environment variables > Defaults. It
// exposes strongly typed settings to the rest of the application.
package config
