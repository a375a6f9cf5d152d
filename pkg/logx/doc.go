// Package logx configures botlab's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional forwarding sink (min-level + rate limiting), used by the
//     serve host to mirror warnings onto the message bus
package logx
