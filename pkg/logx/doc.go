// Package logx configures curatorbot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - an optional chat sink forwards warnings to the curator log chat,
//     rate limited so a failure storm cannot flood the chat.
package logx
