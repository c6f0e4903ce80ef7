// Package config loads the YAML configuration and applies NODEQUEUE_*
// environment overrides.
package config
