// Package config loads runtime configuration for the notesync CLI.
//
// Sources & precedence (later wins)
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file given with --config; the format follows the
//     extension (json, yaml, toml).
//  3. NOTESYNC_* environment variables. Nested keys use an underscore,
//     so retry.max_retries is NOTESYNC_RETRY_MAX_RETRIES.
//  4. Command-line flags bound with BindFlags.
//
// Durations accept Go duration strings such as "30s" or "1m".
package config
