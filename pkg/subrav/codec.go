// Package subrav implements the canonical SubRAV binary encoding and its
// sign/verify operations (spec §4.1, §6). The codec never handles private
// keys: signing is delegated to a Signer, verification to a DIDResolver.
package subrav

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// channelIDBytes is the fixed width mandated by spec §6: "channelId is
// always 32 bytes; any encoder/decoder must enforce this."
const channelIDBytes = 32

// DecodeError reports why a canonical encoding failed to decode. It is
// always returned instead of a bare error so callers can distinguish a
// version-gate rejection (P7) from a malformed payload.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "subrav: decode: " + e.Reason }

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Encode produces the canonical byte layout of spec §6:
//
//	u8 version | u64 chainId | 32-byte channelId | u64 channelEpoch |
//	u32 len + utf8 vmIdFragment | u256 accumulatedAmount (32 bytes BE) | u64 nonce
//
// Encoding a SubRAV with an unsupported version is permitted (forward
// compatibility for proposers, per §4.1's version policy); only Decode
// enforces the version gate.
func Encode(s *model.SubRAV) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("subrav: encode: nil SubRAV")
	}
	channelIDRaw, err := channelIDToBytes(s.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("subrav: encode: %w", err)
	}
	amount := s.AccumulatedAmount
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("subrav: encode: accumulatedAmount must be non-negative")
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("subrav: encode: accumulatedAmount overflows u256")
	}
	vmFragment := []byte(s.VmIDFragment)

	buf := make([]byte, 0, 1+8+channelIDBytes+8+4+len(vmFragment)+32+8)
	buf = append(buf, s.Version)
	buf = binary.BigEndian.AppendUint64(buf, s.ChainID)
	buf = append(buf, channelIDRaw...)
	buf = binary.BigEndian.AppendUint64(buf, s.ChannelEpoch)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(vmFragment)))
	buf = append(buf, vmFragment...)
	buf = append(buf, common.LeftPadBytes(amount.Bytes(), 32)...)
	buf = binary.BigEndian.AppendUint64(buf, s.Nonce)
	return buf, nil
}

// Decode parses the canonical encoding produced by Encode. It enforces I5
// (version gate, P7: the version is checked before any signature
// verification is attempted by callers) and I6 (channelId width/format).
func Decode(raw []byte) (*model.SubRAV, error) {
	const fixedHeader = 1 + 8 + channelIDBytes + 8 + 4
	if len(raw) < fixedHeader {
		return nil, decodeErrorf("payload too short: %d bytes", len(raw))
	}
	off := 0
	version := raw[off]
	off++

	if !model.SupportedVersions[version] {
		return nil, decodeErrorf("unsupported version %d", version)
	}

	chainID := binary.BigEndian.Uint64(raw[off : off+8])
	off += 8

	channelIDRaw := raw[off : off+channelIDBytes]
	off += channelIDBytes
	channelID := bytesToChannelID(channelIDRaw)

	channelEpoch := binary.BigEndian.Uint64(raw[off : off+8])
	off += 8

	vmLen := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	if uint64(off)+uint64(vmLen) > uint64(len(raw)) {
		return nil, decodeErrorf("vmIdFragment length %d exceeds payload", vmLen)
	}
	vmIDFragment := string(raw[off : off+int(vmLen)])
	off += int(vmLen)

	if len(raw)-off < 32+8 {
		return nil, decodeErrorf("payload truncated after vmIdFragment")
	}
	amount := new(big.Int).SetBytes(raw[off : off+32])
	off += 32

	nonce := binary.BigEndian.Uint64(raw[off : off+8])
	off += 8

	if off != len(raw) {
		return nil, decodeErrorf("trailing %d bytes after nonce", len(raw)-off)
	}

	if !model.ValidChannelID(channelID) {
		return nil, decodeErrorf("invalid channelId %q", channelID)
	}

	return &model.SubRAV{
		Version:           version,
		ChainID:           chainID,
		ChannelID:         channelID,
		ChannelEpoch:      channelEpoch,
		VmIDFragment:      vmIDFragment,
		AccumulatedAmount: amount,
		Nonce:             nonce,
	}, nil
}

// channelIDToBytes parses a "0x"+64-hex-char channelId into exactly 32
// bytes, per I6/§6.
func channelIDToBytes(id string) ([]byte, error) {
	if !model.ValidChannelID(id) {
		return nil, fmt.Errorf("invalid channelId %q: want 0x + 64 lowercase hex chars", id)
	}
	b := common.FromHex(id)
	if len(b) != channelIDBytes {
		return nil, fmt.Errorf("channelId %q decodes to %d bytes, want %d", id, len(b), channelIDBytes)
	}
	return b, nil
}

// bytesToChannelID renders 32 raw bytes back to the canonical 0x-prefixed
// lowercase hex string.
func bytesToChannelID(b []byte) string {
	return common.BytesToHash(b).Hex()
}
