// Package solvency evaluates reserve coverage and price drift from the
// on-chain protocol state. Everything here is pure arithmetic.
package solvency

import (
	"math"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

const lamportsPerUnit = 1_000_000_000

// Report is the solvency verdict for one protocol state reading.
type Report struct {
	IsSolvent      bool
	Ratio          float64
	ProvenReserves uint64
	TotalSupply    uint64
	Status         string
}

// Evaluate computes the coverage ratio, capped at 100%. Zero supply is fully
// covered by definition.
func Evaluate(state model.ProtocolState) Report {
	report := Report{
		ProvenReserves: state.ProvenReserves,
		TotalSupply:    state.TotalSupply,
	}

	if state.TotalSupply == 0 {
		report.Ratio = 100
		report.IsSolvent = true
	} else {
		ratio := float64(state.ProvenReserves) / float64(state.TotalSupply)
		if ratio > 1 {
			ratio = 1
		}
		report.Ratio = ratio * 100
		report.IsSolvent = state.ProvenReserves >= state.TotalSupply
	}

	if report.IsSolvent {
		report.Status = "solvent"
	} else {
		report.Status = "undercollateralized"
	}
	return report
}

// SuggestedPriceLamports converts an asset price in USD into lamports per
// unit at the given spot price of the settlement token.
func SuggestedPriceLamports(assetUSD, spotUSD float64) uint64 {
	if spotUSD <= 0 {
		return 0
	}
	return uint64(math.Round(assetUSD / spotUSD * lamportsPerUnit))
}

// Drift returns the relative distance between the suggested and the on-chain
// price as a percentage rounded to two decimals. With no on-chain price there
// is nothing to drift from, so the result is nil.
func Drift(suggested, onChain uint64) *float64 {
	if onChain == 0 {
		return nil
	}
	diff := float64(suggested) - float64(onChain)
	drift := math.Round(math.Abs(diff)/float64(onChain)*100*100) / 100
	return &drift
}
