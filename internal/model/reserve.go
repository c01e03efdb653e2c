// Package model defines domain models for the proof-of-reserve pipeline.
package model

import "time"

// RootStatus describes the lifecycle of a committed merkle root.
type RootStatus string

var (
	// RootPending marks a root computed off-chain but not yet anchored.
	RootPending RootStatus = "pending"
	// RootAnchored marks a root written to the on-chain protocol state.
	RootAnchored RootStatus = "anchored"
)

// SerialRecord is one uniquely serialized physical asset tracked by the ledger.
type SerialRecord struct {
	SerialID       string
	BatchID        string
	LeafHash       string
	IncludedInRoot bool
	CreatedAt      time.Time
}

// MerkleRoot is one distinct commitment over the full serial set.
type MerkleRoot struct {
	RootHash     string
	TotalSerials uint64
	Status       RootStatus
	TxRef        string
	AnchoredAt   time.Time
	CreatedAt    time.Time
}

// RateSetting is the single cached reference rate row (id = "main").
type RateSetting struct {
	ID        string
	Rate      float64
	UpdatedAt time.Time
}

// PriceHistoryPoint is one observed reference price, pruned after 48h.
type PriceHistoryPoint struct {
	Price     float64
	Timestamp time.Time
}

// ProtocolState mirrors the on-chain state account owned by the W3B program.
// The pipeline reads every field and mutates only root, proof and price via
// ledger transactions.
type ProtocolState struct {
	Authority             [32]byte
	Operator              [32]byte
	Mint                  [32]byte
	Treasury              [32]byte
	TotalSupply           uint64
	TotalBurned           uint64
	CurrentMerkleRoot     [32]byte
	ProvenReserves        uint64
	LastRootUpdate        int64
	LastProofTimestamp    int64
	PriceLamports         uint64
	SolReceiver           [32]byte
	YieldAPYBps           uint16
	TotalYieldDistributed uint64
	LastYieldDistribution int64
	IsPaused              bool
	Bump                  uint8
}
