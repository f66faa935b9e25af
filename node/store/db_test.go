package store

import (
	"math/big"
	"os"
	"testing"

	"github.com/180945/btcrelay/internal/chaintest"
	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func sampleChangeSet(t *testing.T) (*relay.ChangeSet, []chaintest.Block) {
	t.Helper()
	g := chaintest.Genesis(1_600_000_000, chaintest.RegtestBits)
	blocks := append([]chaintest.Block{g}, chaintest.Chain(g, 2, chaintest.RegtestBits, 1)...)

	cs := &relay.ChangeSet{
		Headers:   make(map[chainhash.Hash]*relay.HeaderRecord),
		Forks:     make(map[uint32]*relay.Fork),
		Canonical: make(map[uint32]chainhash.Hash),
	}
	for i, b := range blocks {
		rec := &relay.HeaderRecord{Height: 10 + uint32(i), ChainID: relay.MainChainID}
		copy(rec.Raw[:], b.Raw)
		cs.Headers[b.Hash] = rec
		cs.Canonical[rec.Height] = b.Hash
	}
	cs.Forks[relay.MainChainID] = &relay.Fork{
		ChainID:     relay.MainChainID,
		Height:      12,
		Descendants: []chainhash.Hash{g.Hash},
	}
	cs.Forks[2] = &relay.Fork{
		ChainID:     2,
		Height:      12,
		Ancestor:    g.Hash,
		Descendants: []chainhash.Hash{{0x01}, {0x02}},
	}
	target := new(big.Int).Lsh(big.NewInt(0x7fffff), 232)
	cs.State = &relay.State{
		BestBlock:        blocks[2].Hash,
		BestHeight:       12,
		EpochStartTarget: target,
		EpochStartTime:   1_600_000_000,
		EpochEndTarget:   new(big.Int),
		ChainCounter:     2,
	}
	return cs, blocks
}

func requireContents(t *testing.T, d *DB, cs *relay.ChangeSet) {
	t.Helper()
	for hash, want := range cs.Headers {
		got, ok, err := d.Header(hash)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, *want, *got)
	}
	for height, want := range cs.Canonical {
		got, ok, err := d.CanonicalHash(height)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	for id, want := range cs.Forks {
		got, ok, err := d.Fork(id)
		require.NoError(t, err)
		if want == nil {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	st, ok, err := d.State()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cs.State.String(), st.String())
	require.Zero(t, st.EpochStartTarget.Cmp(cs.State.EpochStartTarget))
	require.Zero(t, st.EpochEndTarget.Cmp(cs.State.EpochEndTarget))
	require.Equal(t, cs.State.EpochStartTime, st.EpochStartTime)
}

func TestDB_CommitAndReopen(t *testing.T) {
	for _, backend := range []Backend{BackendBolt, BackendBadger} {
		t.Run(string(backend), func(t *testing.T) {
			datadir := t.TempDir()
			opts := Options{DataDir: datadir, Network: "regtest", Backend: backend}

			d, err := Open(opts)
			require.NoError(t, err)

			_, ok, err := d.State()
			require.NoError(t, err)
			require.False(t, ok)

			cs, _ := sampleChangeSet(t)
			require.NoError(t, d.Commit(cs))
			requireContents(t, d, cs)
			require.NoError(t, d.Close())

			d, err = Open(opts)
			require.NoError(t, err)
			t.Cleanup(func() { _ = d.Close() })
			requireContents(t, d, cs)

			m := d.Manifest()
			require.NotNil(t, m)
			require.Equal(t, SchemaVersionV1, m.SchemaVersion)
			require.Equal(t, "regtest", m.Network)
			require.Equal(t, backend, m.Backend)

			// Deleting a fork and moving the tip lands together.
			update := &relay.ChangeSet{
				Forks: map[uint32]*relay.Fork{2: nil},
				State: cs.State.Copy(),
			}
			update.State.ChainCounter = 3
			require.NoError(t, d.Commit(update))

			_, ok, err = d.Fork(2)
			require.NoError(t, err)
			require.False(t, ok)
			st, _, err := d.State()
			require.NoError(t, err)
			require.Equal(t, uint32(3), st.ChainCounter)
		})
	}
}

func TestDB_MemoryBackend(t *testing.T) {
	d, err := Open(Options{Backend: BackendMemory})
	require.NoError(t, err)
	require.Empty(t, d.ChainDir())

	cs, blocks := sampleChangeSet(t)
	require.NoError(t, d.Commit(cs))
	requireContents(t, d, cs)

	_, ok, err := d.CanonicalHash(99)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = d.Header(chainhash.Hash{0xee})
	require.NoError(t, err)
	require.False(t, ok)

	// Records handed out are copies.
	rec, _, err := d.Header(blocks[0].Hash)
	require.NoError(t, err)
	rec.ChainID = 42
	again, _, err := d.Header(blocks[0].Hash)
	require.NoError(t, err)
	require.Equal(t, relay.MainChainID, again.ChainID)

	require.NoError(t, d.Commit(&relay.ChangeSet{}))
}

func TestDB_ManifestMismatch(t *testing.T) {
	datadir := t.TempDir()

	d, err := Open(Options{DataDir: datadir, Network: "regtest", Backend: BackendBolt})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = Open(Options{DataDir: datadir, Network: "regtest", Backend: BackendBadger})
	require.ErrorContains(t, err, "manifest backend")

	chainDir := ChainDir(datadir, "regtest")
	require.NoError(t, writeManifestAtomic(chainDir, &Manifest{SchemaVersion: 9, Network: "regtest", Backend: BackendBolt}))
	_, err = Open(Options{DataDir: datadir, Network: "regtest", Backend: BackendBolt})
	require.ErrorContains(t, err, "schema_version")

	require.NoError(t, writeManifestAtomic(chainDir, &Manifest{SchemaVersion: 1, Network: "mainnet", Backend: BackendBolt}))
	_, err = Open(Options{DataDir: datadir, Network: "regtest", Backend: BackendBolt})
	require.ErrorContains(t, err, "manifest network")

	require.NoError(t, os.WriteFile(manifestPath(chainDir), []byte("{"), 0o600))
	_, err = Open(Options{DataDir: datadir, Network: "regtest", Backend: BackendBolt})
	require.ErrorContains(t, err, "read manifest")
}

func TestOpen_RequiresLocation(t *testing.T) {
	_, err := Open(Options{Network: "regtest"})
	require.Error(t, err)

	_, err = Open(Options{DataDir: t.TempDir()})
	require.Error(t, err)

	_, err = Open(Options{DataDir: t.TempDir(), Network: "regtest", Backend: "leveldb"})
	require.Error(t, err)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	require.Equal(t, BackendBolt, b)

	b, err = ParseBackend("badger")
	require.NoError(t, err)
	require.Equal(t, BackendBadger, b)

	_, err = ParseBackend("rocks")
	require.Error(t, err)
}

func TestMemoryBackend_FailedUpdateDiscardsWrites(t *testing.T) {
	m := newMemoryBackend()
	err := m.update(func(tx kvTx) error {
		require.NoError(t, tx.put(bucketState, keyState, []byte{1}))
		return os.ErrInvalid
	})
	require.ErrorIs(t, err, os.ErrInvalid)

	v, err := m.get(bucketState, keyState)
	require.NoError(t, err)
	require.Nil(t, v)
}
