// Package config loads application configuration from environment
// variables. Every variable carries the WARDEN_ prefix and has a sensible
// default, so a bare process comes up against a local postgres and redis.
package config
