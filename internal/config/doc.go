// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file, a local .env file and ENHANCER_*
// environment variables. It provides type-safe access to the settings needed
// by the task pipeline, its providers and its operational jobs.
package config
