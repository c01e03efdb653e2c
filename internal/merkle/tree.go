// Package merkle builds the canonical MiMC commitment over the serial leaf set
// and partitions it into fixed-capacity batches for the proving circuit.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Leaf is the 32-byte big-endian canonical form of a field element committing
// to a single serial identifier.
type Leaf [32]byte

// Root is the 32-byte commitment over an entire leaf set.
type Root [32]byte

// Sentinel pads short batches. It is the largest representable field element,
// so it compares strictly above every real leaf hash.
var Sentinel Leaf

func init() {
	m := new(big.Int).Sub(fr.Modulus(), big.NewInt(1))
	m.FillBytes(Sentinel[:])
}

// Hex returns the lowercase hex encoding of the leaf.
func (l Leaf) Hex() string { return hex.EncodeToString(l[:]) }

// LeafFromHex parses the canonical hex encoding of a leaf.
func LeafFromHex(s string) (Leaf, error) {
	var leaf Leaf
	b, err := hex.DecodeString(s)
	if err != nil {
		return leaf, fmt.Errorf("decode leaf hex: %w", err)
	}
	if len(b) != len(leaf) {
		return leaf, fmt.Errorf("leaf must be %d bytes, got %d", len(leaf), len(b))
	}
	copy(leaf[:], b)
	return leaf, nil
}

// Hex returns the lowercase hex encoding of the root.
func (r Root) Hex() string { return hex.EncodeToString(r[:]) }

// LeafHash commits to a serial identifier. The serial is first reduced into
// the scalar field through sha256, then hashed with MiMC so the circuit can
// recompute interior nodes over the same domain.
func LeafHash(serial string) Leaf {
	digest := sha256.Sum256([]byte(serial))

	var e fr.Element
	e.SetBytes(digest[:])
	eb := e.Bytes()

	h := mimc.NewMiMC()
	_, _ = h.Write(eb[:])

	var leaf Leaf
	copy(leaf[:], h.Sum(nil))
	return leaf
}

// nodeHash combines two adjacent nodes into their parent.
func nodeHash(left, right Leaf) Leaf {
	h := mimc.NewMiMC()
	_, _ = h.Write(left[:])
	_, _ = h.Write(right[:])

	var parent Leaf
	copy(parent[:], h.Sum(nil))
	return parent
}

// SortLeaves orders leaves ascending as unsigned integers, in place.
func SortLeaves(leaves []Leaf) {
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})
}

// BuildRoot computes the commitment over the full leaf set. Leaves are sorted
// before tree construction, so the root only depends on the set, never on
// insertion order. Layers are hashed pairwise bottom-up; an odd layer
// duplicates its last node. An empty set yields the all-zero root.
func BuildRoot(leaves []Leaf) Root {
	if len(leaves) == 0 {
		return Root{}
	}

	layer := make([]Leaf, len(leaves))
	copy(layer, leaves)
	SortLeaves(layer)

	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := layer[:0]
		for i := 0; i < len(layer); i += 2 {
			next = append(next, nodeHash(layer[i], layer[i+1]))
		}
		layer = next
	}

	return Root(layer[0])
}
