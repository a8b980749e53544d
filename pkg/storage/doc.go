// Package storage holds every persistence and content-retrieval concern the
// SubRAV toolkit needs on the payee side: the three narrow repositories of
// spec §4.2 (channel metadata, signed RAVs, pending proposals), each with a
// mutex-guarded in-memory implementation; and a RuleSetLoader that fetches a
// payee's published billing-rule bundle and mirrored well-known discovery
// document from content-addressed storage.
//
// # Repositories
//
// ChannelRepository, RAVRepository and PendingSubRAVRepository are the
// storage seams the billing pipeline (pkg/payment) and claim scheduler read
// and write through. MemoryChannelRepository, MemoryRAVRepository and
// MemoryPendingSubRAVRepository guard their state with one mutex per key
// (channelId, or channelId+vmIdFragment), following the same per-key
// locking discipline the upstream EVM client uses for channel and
// sub-channel bookkeeping. A durable backend (SQL, browser-indexed store)
// would implement the same three interfaces; none ships here.
//
// # Rule-set loading
//
// A payee's BillingRule list and its mirrored discovery document can be
// published to IPFS or a Lighthouse/Filecoin gateway so operators can update
// pricing without a redeploy. RuleSetLoader wraps the same Kubo HTTP API
// client and Lighthouse gateway fetch used here to retrieve that bundle by
// CID, exactly the "ipfs://"/"filecoin://" URI convention this package has
// always used for content-addressed fetches.
package storage
