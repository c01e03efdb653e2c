package prover

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/w3b-protocol/reserve-backend/internal/merkle"
)

type (
	// Witness is the intermediate trace the prover needs for one batch.
	Witness struct {
		BatchNumber int
		full        witness.Witness
		public      witness.Witness
	}

	// Proof carries the serialized artifacts produced for one batch. The
	// extracted root is read back from the first public input, never taken
	// on faith from the batch.
	Proof struct {
		BatchNumber   int
		ProofBlob     []byte
		VerifyingKey  []byte
		PublicInputs  []byte
		ExtractedRoot merkle.Root

		proof  groth16.Proof
		public witness.Witness
	}

	// Toolchain is the proving toolchain contract: three blocking stages,
	// invoked strictly in order per batch.
	Toolchain interface {
		GenerateWitness(ctx context.Context, batch merkle.Batch) (Witness, error)
		Prove(ctx context.Context, w Witness) (Proof, error)
		Verify(ctx context.Context, p Proof) error
	}
)

// GnarkToolchain proves batches with groth16 over BN254. The constraint
// system and keys are built once per capacity and reused for every batch.
type GnarkToolchain struct {
	capacity int
	ccs      constraint.ConstraintSystem
	pk       groth16.ProvingKey
	vk       groth16.VerifyingKey
	vkBlob   []byte
}

// NewGnarkToolchain compiles the batch circuit and runs the groth16 setup.
func NewGnarkToolchain(capacity int) (*GnarkToolchain, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("batch capacity must be positive, got %d", capacity)
	}

	circuit := BatchCircuit{Leaves: make([]frontend.Variable, capacity)}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("compile batch circuit: %w", err)
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}

	var vkBuf bytes.Buffer
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		return nil, fmt.Errorf("serialize verifying key: %w", err)
	}

	return &GnarkToolchain{
		capacity: capacity,
		ccs:      ccs,
		pk:       pk,
		vk:       vk,
		vkBlob:   vkBuf.Bytes(),
	}, nil
}

// Capacity returns the circuit's fixed leaf capacity.
func (t *GnarkToolchain) Capacity() int { return t.capacity }

// GenerateWitness builds the full and public witnesses for a batch.
func (t *GnarkToolchain) GenerateWitness(ctx context.Context, batch merkle.Batch) (Witness, error) {
	if err := ctx.Err(); err != nil {
		return Witness{}, err
	}
	if len(batch.Leaves) != t.capacity {
		return Witness{}, fmt.Errorf("batch %d has %d leaves, circuit capacity is %d",
			batch.Number, len(batch.Leaves), t.capacity)
	}

	root := merkle.BuildRoot(batch.Leaves)

	assignment := BatchCircuit{
		Root:        new(big.Int).SetBytes(root[:]),
		ActiveCount: batch.ActiveCount,
		Leaves:      make([]frontend.Variable, t.capacity),
	}
	for i, leaf := range batch.Leaves {
		assignment.Leaves[i] = new(big.Int).SetBytes(leaf[:])
	}

	full, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return Witness{}, fmt.Errorf("build witness: %w", err)
	}
	public, err := full.Public()
	if err != nil {
		return Witness{}, fmt.Errorf("extract public witness: %w", err)
	}

	return Witness{BatchNumber: batch.Number, full: full, public: public}, nil
}

// Prove generates the groth16 proof and serializes all artifacts.
func (t *GnarkToolchain) Prove(ctx context.Context, w Witness) (Proof, error) {
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}

	proof, err := groth16.Prove(t.ccs, t.pk, w.full)
	if err != nil {
		return Proof{}, fmt.Errorf("groth16 prove: %w", err)
	}

	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return Proof{}, fmt.Errorf("serialize proof: %w", err)
	}
	publicBlob, err := w.public.MarshalBinary()
	if err != nil {
		return Proof{}, fmt.Errorf("serialize public inputs: %w", err)
	}

	root, err := extractRoot(w.public)
	if err != nil {
		return Proof{}, err
	}

	return Proof{
		BatchNumber:   w.BatchNumber,
		ProofBlob:     proofBuf.Bytes(),
		VerifyingKey:  t.vkBlob,
		PublicInputs:  publicBlob,
		ExtractedRoot: root,
		proof:         proof,
		public:        w.public,
	}, nil
}

// Verify checks the proof against the verifying key before it is accepted.
// An unverifiable proof is treated the same as a generation failure.
func (t *GnarkToolchain) Verify(ctx context.Context, p Proof) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := groth16.Verify(p.proof, t.vk, p.public); err != nil {
		return fmt.Errorf("groth16 verify: %w", err)
	}
	return nil
}

// extractRoot reads the committed root from the first public input.
func extractRoot(public witness.Witness) (merkle.Root, error) {
	vector, ok := public.Vector().(fr.Vector)
	if !ok {
		return merkle.Root{}, fmt.Errorf("unexpected public witness vector type %T", public.Vector())
	}
	if len(vector) == 0 {
		return merkle.Root{}, fmt.Errorf("public witness has no inputs")
	}
	b := vector[0].Bytes()

	var root merkle.Root
	copy(root[:], b[:])
	return root, nil
}
