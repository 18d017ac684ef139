// Package logx configures rankbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional ops chat sink (min-level + rate limited, never blocks callers)
package logx
