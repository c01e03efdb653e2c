// Package prover drives proof generation over partitioned reserve batches.
package prover

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/math/cmp"
)

// BatchCircuit attests to one fixed-capacity batch of leaf hashes: the leaves
// are sorted strictly ascending over the active prefix, padded slots hold the
// sentinel, and the public root is the MiMC commitment over the padded batch.
// The strict ordering doubles as an O(n) uniqueness check.
type BatchCircuit struct {
	Root        frontend.Variable   `gnark:",public"`
	ActiveCount frontend.Variable   `gnark:",public"`
	Leaves      []frontend.Variable `gnark:",secret"`
}

// Define declares the batch constraints.
func (c *BatchCircuit) Define(api frontend.API) error {
	n := len(c.Leaves)

	sentinel := new(big.Int).Sub(fr.Modulus(), big.NewInt(1))
	// ActiveCount and the slot indices differ by at most the capacity.
	slots := cmp.NewBoundedComparator(api, big.NewInt(int64(n)), false)

	for i := 0; i < n; i++ {
		active := slots.IsLess(i, c.ActiveCount)

		// Padded slots hold exactly the sentinel.
		padded := api.Sub(1, active)
		api.AssertIsEqual(api.Mul(padded, api.Sub(c.Leaves[i], sentinel)), 0)

		if i > 0 {
			// Non-decreasing everywhere, strictly increasing over the
			// active prefix. Actives form a prefix, so the pair is active
			// iff slot i is.
			api.AssertIsLessOrEqual(c.Leaves[i-1], c.Leaves[i])
			equal := api.IsZero(api.Sub(c.Leaves[i], c.Leaves[i-1]))
			api.AssertIsEqual(api.Mul(equal, active), 0)
		}
	}

	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	layer := make([]frontend.Variable, n)
	copy(layer, c.Leaves)
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([]frontend.Variable, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			h.Reset()
			h.Write(layer[i], layer[i+1])
			next = append(next, h.Sum())
		}
		layer = next
	}

	api.AssertIsEqual(c.Root, layer[0])
	return nil
}
