// Package startup loads and validates configuration and writes the
// structured startup banner. Values come from config.json and environment
// overrides via viper; the CLI entry point layers flags on top.
package startup
