// Package config loads, normalizes, and validates curio's TOML configuration.
//
// Configuration resolution order: an explicit --config path, then
// ~/.config/curio/config.toml, then ./curio.toml in the working directory.
// Missing files fall back to repository defaults so the daemon can start
// with nothing but a writable data directory.
package config
