// Package payerclient implements the payer-side half of the SubRAV protocol
// (spec §4.6): a per-host state machine that discovers and recovers a
// payment channel, signs SubRAV proposals the payee emits, and resolves
// concurrent in-flight requests by clientTxRef.
//
// Layout mirrors pkg/payment's: client.go holds the Client type and its
// five operations (ensureChannelReady, discoverService, beforeRequest,
// afterResponse, commitSubRAV); contract.go narrows
// pkg/blockchain.Contract down to the lifecycle calls a payer needs;
// inflight.go is the clientTxRef-keyed request tracker; store.go persists a
// Client's state across process restarts the way pkg/storage persists the
// payee's; didauth.go is the DID-auth token attachment seam.
//
// Grounded on pkg/sdk's now-superseded Core/ServiceClient (per-host client,
// timeout-bounded calls, zap logging) and on pkg/subrav.Signer's doc comment
// pointing at a *ecdsa.PrivateKey-backed default implementation.
package payerclient
