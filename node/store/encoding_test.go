package store

import (
	"math/big"
	"testing"

	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestEncodeFork_Layout(t *testing.T) {
	f := &relay.Fork{
		ChainID:     7,
		Height:      0x01020304,
		Ancestor:    chainhash.Hash{0xaa},
		Descendants: []chainhash.Hash{{0x01}, {0x02}, {0x03}},
	}
	b := encodeFork(f)
	require.Len(t, b, forkFixedSize+3*chainhash.HashSize)
	require.Equal(t, []byte{7, 0, 0, 0}, b[0:4])
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b[4:8])
	require.Equal(t, byte(0xaa), b[8])
	require.Equal(t, []byte{3, 0, 0, 0}, b[40:44])

	got, err := decodeFork(b)
	require.NoError(t, err)
	require.Equal(t, f, got)

	_, err = decodeFork(b[:len(b)-1])
	require.Error(t, err)
	_, err = decodeFork(b[:10])
	require.Error(t, err)
}

func TestEncodeState_TargetBounds(t *testing.T) {
	s := &relay.State{
		EpochStartTarget: new(big.Int).Lsh(big.NewInt(1), 256),
		EpochEndTarget:   new(big.Int),
	}
	_, err := encodeState(s)
	require.Error(t, err)

	s.EpochStartTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	b, err := encodeState(s)
	require.NoError(t, err)
	require.Len(t, b, stateRecordSize)

	got, err := decodeState(b)
	require.NoError(t, err)
	require.Zero(t, got.EpochStartTarget.Cmp(s.EpochStartTarget))
	require.Zero(t, got.EpochEndTarget.Sign())

	_, err = decodeState(b[1:])
	require.Error(t, err)
}

func TestHeightKeyOrder(t *testing.T) {
	require.Equal(t, []byte{0, 0, 1, 0}, heightKey(256))
	require.Less(t, string(heightKey(255)), string(heightKey(256)))
}

func TestDecodeHeaderRecord_BadLength(t *testing.T) {
	_, err := decodeHeaderRecord(make([]byte, headerRecordSize-1))
	require.Error(t, err)
}
