// Package blockchain is the EVM adapter for the payment-channel contract
// specified in spec §4.8. It is the only package in this module that talks
// to an actual chain: dialing an RPC endpoint, binding the contract ABI,
// reading channel/sub-channel/asset state, and submitting claim/open/close
// transactions.
//
// # Architecture
//
// EVMClient holds the dialed ethclient.Client plus a generic
// bind.BoundContract bound against the hand-maintained ABI in abi.go — there
// is no abigen output for this contract shape, so calls and transactions go
// through bind.BoundContract's untyped Call/Transact methods instead of
// generated typed wrappers.
//
// Contract wraps an EVMClient and implements the two interfaces the rest of
// the module depends on:
//
//   - pkg/payment.ContractClient (GetChannelInfo, IsSubChannelAuthorized) —
//     consulted by the billing processor on every request.
//   - pkg/payment.ClaimSubmitter (Claim) — invoked by the claim scheduler
//     when a sub-channel's unclaimed delta crosses its threshold.
//
// It also exposes the channel-lifecycle operations (OpenChannel,
// OpenChannelWithSubChannel, AuthorizeSubChannel, CloseChannel) that
// pkg/payerclient's ensureChannelReady flow needs, and the read-only
// GetChainID/GetAssetInfo/GetAssetPrice/GetHubBalance calls used by
// RateProvider and the scheduler's optional hub-balance gate.
//
// RateProvider layers a bounded-lifetime cache (30s reference, per spec
// §4.8) over GetAssetInfo/GetAssetPrice so the hot request path doesn't
// round-trip to the chain on every billed call.
//
// # Usage
//
//	evm, err := blockchain.InitEvm(rpcEndpoint, contractAddress)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer evm.Close()
//
//	contract := blockchain.NewContract(evm)
//	rates := blockchain.NewRateProvider(contract, context.Background())
//
//	processor := payment.NewProcessor(matcher, rates, contract, resolver,
//		channelRepo, ravRepo, pendingRepo, scheduler, adminDIDs, chainID)
//
// # Transactions
//
// Write operations (OpenChannel, ClaimFromChannel, ...) take an explicit
// *bind.TransactOpts built via GetTransactOpts or EVMClient.GetTransactOpts,
// and block until EVMClient.WaitForTransaction observes a receipt, polling
// with exponential backoff. A reverted transaction surfaces as an error.
package blockchain
