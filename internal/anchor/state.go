// Package anchor reads and writes the on-chain protocol state record.
package anchor

import (
	"encoding/binary"
	"fmt"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

// Account sizes for the two known protocol state layouts, discriminator
// included. The byte length is the sole migration trigger: there is no version
// field in the account.
const (
	StateSizeV1 = 218
	StateSizeV2 = 512
)

// V2 field offsets, after the 8-byte account discriminator.
const (
	offAuthority             = 8
	offOperator              = 40
	offMint                  = 72
	offTreasury              = 104
	offTotalSupply           = 136
	offTotalBurned           = 144
	offMerkleRoot            = 152
	offProvenReserves        = 184
	offLastRootUpdate        = 192
	offLastProofTimestamp    = 200
	offPriceLamports         = 208
	offSolReceiver           = 216
	offYieldAPYBps           = 248
	offTotalYieldDistributed = 250
	offLastYieldDistribution = 258
	offIsPaused              = 266
	offBump                  = 267
)

// DecodeState parses a V2 protocol state account.
func DecodeState(data []byte) (model.ProtocolState, error) {
	if len(data) != StateSizeV2 {
		return model.ProtocolState{}, &model.MigrationRequiredError{GotSize: len(data), WantSize: StateSizeV2}
	}

	var state model.ProtocolState
	copy(state.Authority[:], data[offAuthority:offAuthority+32])
	copy(state.Operator[:], data[offOperator:offOperator+32])
	copy(state.Mint[:], data[offMint:offMint+32])
	copy(state.Treasury[:], data[offTreasury:offTreasury+32])
	state.TotalSupply = binary.LittleEndian.Uint64(data[offTotalSupply:])
	state.TotalBurned = binary.LittleEndian.Uint64(data[offTotalBurned:])
	copy(state.CurrentMerkleRoot[:], data[offMerkleRoot:offMerkleRoot+32])
	state.ProvenReserves = binary.LittleEndian.Uint64(data[offProvenReserves:])
	state.LastRootUpdate = int64(binary.LittleEndian.Uint64(data[offLastRootUpdate:]))
	state.LastProofTimestamp = int64(binary.LittleEndian.Uint64(data[offLastProofTimestamp:]))
	state.PriceLamports = binary.LittleEndian.Uint64(data[offPriceLamports:])
	copy(state.SolReceiver[:], data[offSolReceiver:offSolReceiver+32])
	state.YieldAPYBps = binary.LittleEndian.Uint16(data[offYieldAPYBps:])
	state.TotalYieldDistributed = binary.LittleEndian.Uint64(data[offTotalYieldDistributed:])
	state.LastYieldDistribution = int64(binary.LittleEndian.Uint64(data[offLastYieldDistribution:]))
	state.IsPaused = data[offIsPaused] == 1
	state.Bump = data[offBump]

	return state, nil
}

// EncodeState serializes a V2 protocol state account. The discriminator and
// reserved tail are zeroed; only tests and fakes build accounts from scratch.
func EncodeState(state model.ProtocolState) []byte {
	data := make([]byte, StateSizeV2)
	copy(data[offAuthority:], state.Authority[:])
	copy(data[offOperator:], state.Operator[:])
	copy(data[offMint:], state.Mint[:])
	copy(data[offTreasury:], state.Treasury[:])
	binary.LittleEndian.PutUint64(data[offTotalSupply:], state.TotalSupply)
	binary.LittleEndian.PutUint64(data[offTotalBurned:], state.TotalBurned)
	copy(data[offMerkleRoot:], state.CurrentMerkleRoot[:])
	binary.LittleEndian.PutUint64(data[offProvenReserves:], state.ProvenReserves)
	binary.LittleEndian.PutUint64(data[offLastRootUpdate:], uint64(state.LastRootUpdate))
	binary.LittleEndian.PutUint64(data[offLastProofTimestamp:], uint64(state.LastProofTimestamp))
	binary.LittleEndian.PutUint64(data[offPriceLamports:], state.PriceLamports)
	copy(data[offSolReceiver:], state.SolReceiver[:])
	binary.LittleEndian.PutUint16(data[offYieldAPYBps:], state.YieldAPYBps)
	binary.LittleEndian.PutUint64(data[offTotalYieldDistributed:], state.TotalYieldDistributed)
	binary.LittleEndian.PutUint64(data[offLastYieldDistribution:], uint64(state.LastYieldDistribution))
	if state.IsPaused {
		data[offIsPaused] = 1
	}
	data[offBump] = state.Bump
	return data
}

// LayoutError reports an account length that matches neither known layout.
func LayoutError(got int) error {
	return fmt.Errorf("unknown protocol state layout: %w",
		&model.MigrationRequiredError{GotSize: got, WantSize: StateSizeV2})
}
