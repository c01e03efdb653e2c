package anchor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

func sampleState() model.ProtocolState {
	state := model.ProtocolState{
		TotalSupply:           1_000_000,
		TotalBurned:           250_000,
		ProvenReserves:        1_000_000,
		LastRootUpdate:        1_756_000_000,
		LastProofTimestamp:    1_756_000_100,
		PriceLamports:         5_000_000,
		YieldAPYBps:           450,
		TotalYieldDistributed: 12_345,
		LastYieldDistribution: 1_755_000_000,
		IsPaused:              true,
		Bump:                  254,
	}
	for i := range state.Authority {
		state.Authority[i] = 0xA1
		state.Operator[i] = 0xB2
		state.Mint[i] = 0xC3
		state.Treasury[i] = 0xD4
		state.SolReceiver[i] = 0xE5
		state.CurrentMerkleRoot[i] = byte(i)
	}
	return state
}

func TestStateEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	want := sampleState()
	data := EncodeState(want)
	require.Len(t, data, StateSizeV2)

	got, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeStateV1RequiresMigration(t *testing.T) {
	t.Parallel()

	_, err := DecodeState(make([]byte, StateSizeV1))

	var migrationErr *model.MigrationRequiredError
	require.True(t, errors.As(err, &migrationErr))
	assert.Equal(t, StateSizeV1, migrationErr.GotSize)
	assert.Equal(t, StateSizeV2, migrationErr.WantSize)
}

func TestDecodeStateAcceptsMigratedAccountLength(t *testing.T) {
	t.Parallel()

	// A migrated account is 512 bytes total, discriminator included.
	_, err := DecodeState(make([]byte, 512))
	assert.NoError(t, err)
}

func TestDecodeStateUnknownLength(t *testing.T) {
	t.Parallel()

	for _, size := range []int{300, 520} {
		_, err := DecodeState(make([]byte, size))
		assert.Error(t, err)
	}
}

func TestDecodeStateFieldOffsets(t *testing.T) {
	t.Parallel()

	data := make([]byte, StateSizeV2)
	// total_supply sits at byte 136, little endian.
	data[136] = 0x39
	data[137] = 0x05
	// price_lamports at byte 208.
	data[208] = 0x40
	data[209] = 0x4b
	data[210] = 0x4c

	state, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0539), state.TotalSupply)
	assert.Equal(t, uint64(0x4c4b40), state.PriceLamports)
	assert.False(t, state.IsPaused)
}
