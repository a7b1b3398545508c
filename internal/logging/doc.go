// Package logging provides a simple leveled logging interface for the
// gallery indexer.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable.
// Output can additionally be mirrored into a size-rotated log file with
// SetupFileOutput.
package logging
