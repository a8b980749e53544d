// Package transport adapts pkg/payment's billing pipeline and
// pkg/payerclient's client state machine to the two wire transports spec
// §4.7 names: HTTP (a single header) and MCP (a pair of reserved
// tool-parameter keys). Both share the same JSON envelope shape (spec §6);
// the HTTP codec is the canonical reference and the MCP adapter reuses it
// verbatim.
//
// # Layout
//
//   - envelope.go — the wire JSON structs and their encode/decode helpers,
//     plus the big.Int<->decimal-string conversions spec §6 requires to
//     preserve precision over JSON.
//   - errors.go — the ErrorKind -> transport-code tables of spec §7.
//   - http.go — the server-side HTTP middleware (extract envelope, run
//     preProcess, invoke the handler, settle before flush, persist after)
//     and the client-side header helpers pkg/payerclient uses.
//   - mcp.go — the equivalent for an MCP tool call, operating on
//     map[string]any request/response params instead of an http.Request.
//   - discovery.go — the well-known discovery document server handler and
//     client fetch helper (spec §6).
//   - builtin.go — the built-in, always-free rule-identified operations of
//     spec §6 (nuwa.discover, nuwa.health, nuwa.recovery, nuwa.commit,
//     nuwa.admin.status, nuwa.admin.claim-trigger).
package transport
