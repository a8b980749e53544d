package blockchain

// paymentChannelABI is the hand-maintained ABI for the sub-channel payment
// contract (spec §4.8). There is no generated binding for this contract in
// the wild the way there is for SingularityNET's MultiPartyEscrow, so calls
// are made through a generic bind.BoundContract bound to this ABI rather
// than through abigen output.
const paymentChannelABI = `[
  {
    "type": "function",
    "name": "openChannel",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "payerDid", "type": "string"},
      {"name": "payeeDid", "type": "string"},
      {"name": "assetId", "type": "bytes32"},
      {"name": "deposit", "type": "uint256"}
    ],
    "outputs": [{"name": "channelId", "type": "bytes32"}]
  },
  {
    "type": "function",
    "name": "openChannelWithSubChannel",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "payerDid", "type": "string"},
      {"name": "payeeDid", "type": "string"},
      {"name": "assetId", "type": "bytes32"},
      {"name": "deposit", "type": "uint256"},
      {"name": "vmIdFragment", "type": "string"},
      {"name": "publicKey", "type": "bytes"}
    ],
    "outputs": [{"name": "channelId", "type": "bytes32"}]
  },
  {
    "type": "function",
    "name": "authorizeSubChannel",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "channelId", "type": "bytes32"},
      {"name": "vmIdFragment", "type": "string"},
      {"name": "publicKey", "type": "bytes"},
      {"name": "methodType", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "closeChannel",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "channelId", "type": "bytes32"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "claimFromChannel",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "channelId", "type": "bytes32"},
      {"name": "vmIdFragment", "type": "string"},
      {"name": "accumulatedAmount", "type": "uint256"},
      {"name": "nonce", "type": "uint64"},
      {"name": "signature", "type": "bytes"}
    ],
    "outputs": [{"name": "claimedAmount", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "channels",
    "stateMutability": "view",
    "inputs": [{"name": "channelId", "type": "bytes32"}],
    "outputs": [
      {"name": "payerDid", "type": "string"},
      {"name": "payeeDid", "type": "string"},
      {"name": "assetId", "type": "bytes32"},
      {"name": "epoch", "type": "uint64"},
      {"name": "status", "type": "uint8"}
    ]
  },
  {
    "type": "function",
    "name": "subChannels",
    "stateMutability": "view",
    "inputs": [
      {"name": "channelId", "type": "bytes32"},
      {"name": "vmIdFragment", "type": "string"}
    ],
    "outputs": [
      {"name": "authorized", "type": "bool"},
      {"name": "epoch", "type": "uint64"},
      {"name": "lastClaimedAmount", "type": "uint256"},
      {"name": "lastConfirmedNonce", "type": "uint64"},
      {"name": "publicKey", "type": "bytes"},
      {"name": "methodType", "type": "string"}
    ]
  },
  {
    "type": "function",
    "name": "chainId",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint64"}]
  },
  {
    "type": "function",
    "name": "getAssetInfo",
    "stateMutability": "view",
    "inputs": [{"name": "assetId", "type": "bytes32"}],
    "outputs": [
      {"name": "symbol", "type": "string"},
      {"name": "decimals", "type": "uint8"}
    ]
  },
  {
    "type": "function",
    "name": "getAssetPrice",
    "stateMutability": "view",
    "inputs": [{"name": "assetId", "type": "bytes32"}],
    "outputs": [{"name": "picoUsd", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getHubBalance",
    "stateMutability": "view",
    "inputs": [{"name": "assetId", "type": "bytes32"}],
    "outputs": [{"name": "balance", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "ChannelOpen",
    "anonymous": false,
    "inputs": [
      {"name": "channelId", "type": "bytes32", "indexed": true},
      {"name": "payerDid", "type": "string", "indexed": false},
      {"name": "payeeDid", "type": "string", "indexed": false},
      {"name": "assetId", "type": "bytes32", "indexed": false},
      {"name": "deposit", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "SubChannelAuthorized",
    "anonymous": false,
    "inputs": [
      {"name": "channelId", "type": "bytes32", "indexed": true},
      {"name": "vmIdFragment", "type": "string", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "Claim",
    "anonymous": false,
    "inputs": [
      {"name": "channelId", "type": "bytes32", "indexed": true},
      {"name": "vmIdFragment", "type": "string", "indexed": false},
      {"name": "claimedAmount", "type": "uint256", "indexed": false},
      {"name": "nonce", "type": "uint64", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "ChannelClose",
    "anonymous": false,
    "inputs": [{"name": "channelId", "type": "bytes32", "indexed": true}]
  }
]`
