// Package logger wraps zap to offer:
//   - a global sugared logger with a console encoder writing to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Commands and services accept a context and extract the logger from it, so
// every release processed by a sync carries its own release/tag fields.
package logger
