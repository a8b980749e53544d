// Package model defines the data structures shared by every component of
// the SubRAV payment-channel toolkit: the SubRAV receipt itself, channel and
// sub-channel metadata as cached from the on-chain contract, the payee's
// pending-proposal record, billing rules and strategy configuration, and the
// in-flight billing context threaded through the payee pipeline. These
// structs are plain data: validation lives alongside construction, but
// protocol logic (encoding, signing, billing) lives in the packages that
// consume them.
package model
