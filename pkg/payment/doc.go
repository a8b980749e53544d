// Package payment implements the payee side of the SubRAV protocol: the
// rule matcher and billing strategies (spec §4.3), the three-step payment
// processor (spec §4.4), and the reactive claim scheduler (spec §4.5).
//
// The processor is deliberately split into PreProcess, Settle and Persist so
// that a transport adapter (pkg/transport) can run PreProcess before
// invoking the business handler, Settle synchronously as the response
// headers are about to be written, and Persist asynchronously after the
// response has been flushed.
package payment
