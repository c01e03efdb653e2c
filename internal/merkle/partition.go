package merkle

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

// DefaultBatchCapacity is the number of leaves the proving circuit attests to
// in a single proof.
const DefaultBatchCapacity = 20

// SerialLeaf ties a leaf hash back to the serial identifier it commits to.
type SerialLeaf struct {
	SerialID string
	Leaf     Leaf
}

// Batch is one fixed-capacity group of leaves consumable by the circuit.
// Leaves is always exactly capacity long; slots at or beyond ActiveCount hold
// the sentinel.
type Batch struct {
	Number      int
	Leaves      []Leaf
	ActiveCount int
	SerialIDs   []string
}

// BatchManifestEntry maps a batch number to its originating serials and, once
// the prover has staged inputs, the input file reference.
type BatchManifestEntry struct {
	BatchNumber int      `json:"batchNumber"`
	ActiveCount int      `json:"activeCount"`
	SerialIDs   []string `json:"serialIds"`
	InputFile   string   `json:"inputFile,omitempty"`
}

// BatchManifest is the audit contract between the partitioner and the proof
// orchestrator. It is regenerable deterministically from a ledger snapshot.
type BatchManifest struct {
	RunID        string               `json:"runId"`
	GeneratedAt  time.Time            `json:"generatedAt"`
	TotalSerials int                  `json:"totalSerials"`
	BatchSize    int                  `json:"batchSize"`
	Batches      []BatchManifestEntry `json:"batches"`
}

// Partition sorts the leaf set ascending and splits it into consecutive
// batches of capacity, padding the final short batch with the sentinel.
// A real leaf equal to the sentinel cannot be distinguished from padding and
// is rejected.
func Partition(records []SerialLeaf, capacity int) ([]Batch, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("batch capacity must be positive, got %d", capacity)
	}

	sorted := make([]SerialLeaf, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Leaf[:], sorted[j].Leaf[:]) < 0
	})

	for i, rec := range sorted {
		if rec.Leaf == Sentinel {
			return nil, fmt.Errorf("serial %q hashes to the padding sentinel", rec.SerialID)
		}
		if i > 0 && sorted[i-1].Leaf == rec.Leaf {
			return nil, fmt.Errorf("duplicate leaf hash %s for serials %q and %q",
				rec.Leaf.Hex(), sorted[i-1].SerialID, rec.SerialID)
		}
	}

	var batches []Batch
	for start := 0; start < len(sorted); start += capacity {
		end := start + capacity
		if end > len(sorted) {
			end = len(sorted)
		}
		chunk := sorted[start:end]

		batch := Batch{
			Number:      len(batches) + 1,
			Leaves:      make([]Leaf, capacity),
			ActiveCount: len(chunk),
			SerialIDs:   make([]string, 0, len(chunk)),
		}
		for i := range batch.Leaves {
			batch.Leaves[i] = Sentinel
		}
		for i, rec := range chunk {
			batch.Leaves[i] = rec.Leaf
			batch.SerialIDs = append(batch.SerialIDs, rec.SerialID)
		}
		batches = append(batches, batch)
	}

	return batches, nil
}

// NewBatchManifest builds the manifest for a partitioned run.
func NewBatchManifest(runID string, generatedAt time.Time, capacity int, batches []Batch) BatchManifest {
	manifest := BatchManifest{
		RunID:       runID,
		GeneratedAt: generatedAt,
		BatchSize:   capacity,
		Batches:     make([]BatchManifestEntry, 0, len(batches)),
	}
	for _, b := range batches {
		manifest.TotalSerials += b.ActiveCount
		manifest.Batches = append(manifest.Batches, BatchManifestEntry{
			BatchNumber: b.Number,
			ActiveCount: b.ActiveCount,
			SerialIDs:   b.SerialIDs,
		})
	}
	return manifest
}
