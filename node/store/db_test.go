package store

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"rubin.dev/ctv/consensus"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), "regtest")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_RequiresArgs(t *testing.T) {
	_, err := Open("", "regtest")
	require.Error(t, err, "empty datadir")
	_, err = Open(t.TempDir(), "")
	require.Error(t, err, "empty network")
}

func TestDB_InitGenesisAndTip(t *testing.T) {
	db := openTestDB(t)
	_, _, ok, err := db.Tip()
	require.NoError(t, err)
	require.False(t, ok, "fresh db has no tip")

	genesis := chaincfg.RegressionNetParams.GenesisBlock
	require.NoError(t, db.InitGenesis(genesis))
	require.Error(t, db.InitGenesis(genesis), "second InitGenesis")

	hash, height, ok, err := db.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesis.BlockHash(), hash)
	require.Zero(t, height)

	got, ok, err := db.GetBlock(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash, got.BlockHash())

	set, err := db.LoadUTXOSet()
	require.NoError(t, err)
	require.Empty(t, set, "genesis outputs must not be spendable")
}

func TestDB_ConnectDisconnect(t *testing.T) {
	db := openTestDB(t)
	genesis := chaincfg.RegressionNetParams.GenesisBlock
	require.NoError(t, db.InitGenesis(genesis))

	spent := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	spentEntry := consensus.UtxoEntry{Output: wire.TxOut{Value: 50, PkScript: []byte{0x51}}, Height: 0, Coinbase: true}
	require.NoError(t, db.db.Update(func(tx *bolt.Tx) error {
		v, err := encodeUtxoEntry(spentEntry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUtxo).Put(encodeOutpointKey(spent), v)
	}))

	block := wire.NewMsgBlock(wire.NewBlockHeader(1, ptrHash(genesis.BlockHash()), &chainhash.Hash{}, 0, 0))
	created := wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}
	createdEntry := consensus.UtxoEntry{Output: wire.TxOut{Value: 40, PkScript: []byte{0x00, 0x01}}, Height: 1}
	view := consensus.UtxoSet{created: createdEntry}
	undo := &consensus.BlockUndo{
		Spent:   []consensus.SpentOutput{{OutPoint: spent, Entry: spentEntry}},
		Created: []wire.OutPoint{created},
	}
	require.NoError(t, db.ConnectBlock(block, 1, undo, view))

	hash := block.BlockHash()
	tip, height, _, _ := db.Tip()
	require.Equal(t, hash, tip)
	require.Equal(t, uint32(1), height)

	_, ok, _ := db.GetUTXO(spent)
	require.False(t, ok, "spent output still present")
	got, ok, err := db.GetUTXO(created)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(40), got.Output.Value)

	idx, ok, err := db.GetIndex(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), idx.Height)
	require.Equal(t, genesis.BlockHash(), idx.PrevHash)
	require.Equal(t, BlockStatusValid, idx.Status)

	storedUndo, ok, err := db.GetUndo(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, storedUndo.Spent, 1)
	require.Len(t, storedUndo.Created, 1)

	require.NoError(t, db.DisconnectBlock(hash, storedUndo, genesis.BlockHash(), 0))
	_, ok, _ = db.GetUTXO(created)
	require.False(t, ok, "created output survived disconnect")
	restored, ok, _ := db.GetUTXO(spent)
	require.True(t, ok)
	require.True(t, restored.Coinbase)
	require.Equal(t, int64(50), restored.Output.Value)
	_, ok, _ = db.GetUndo(hash)
	require.False(t, ok, "undo record should be dropped on disconnect")
	tip, height, _, _ = db.Tip()
	require.Equal(t, genesis.BlockHash(), tip)
	require.Zero(t, height)

	idx.Status = BlockStatusInvalid
	require.NoError(t, db.PutIndex(hash, *idx))
	idx2, _, _ := db.GetIndex(hash)
	require.Equal(t, BlockStatusInvalid, idx2.Status)
}

func TestDB_ConnectRequiresCreatedInView(t *testing.T) {
	db := openTestDB(t)
	block := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{}, &chainhash.Hash{}, 0, 0))
	undo := &consensus.BlockUndo{Created: []wire.OutPoint{{Index: 3}}}
	require.Error(t, db.ConnectBlock(block, 1, undo, consensus.UtxoSet{}))
	_, _, ok, _ := db.Tip()
	require.False(t, ok, "failed connect must not move the tip")
}

func TestUndoEncoding(t *testing.T) {
	u := &consensus.BlockUndo{
		Spent: []consensus.SpentOutput{
			{OutPoint: wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 7}, Entry: consensus.UtxoEntry{Output: wire.TxOut{Value: 1, PkScript: bytes.Repeat([]byte{0xb3}, 34)}, Height: 9, Coinbase: true}},
		},
		Created: []wire.OutPoint{{Hash: chainhash.Hash{0xbb}, Index: 0}, {Hash: chainhash.Hash{0xbb}, Index: 1}},
	}
	b, err := encodeUndo(u)
	require.NoError(t, err)
	got, err := decodeUndo(b)
	require.NoError(t, err)
	require.Len(t, got.Spent, 1)
	require.Equal(t, u.Spent[0].OutPoint, got.Spent[0].OutPoint)
	require.Equal(t, uint32(9), got.Spent[0].Entry.Height)
	require.Equal(t, u.Spent[0].Entry.Output.PkScript, got.Spent[0].Entry.Output.PkScript)
	require.Len(t, got.Created, 2)
	require.Equal(t, u.Created[1], got.Created[1])

	_, err = decodeUndo(b[:len(b)-1])
	require.Error(t, err, "truncated")
	_, err = decodeUndo(append(b, 0))
	require.Error(t, err, "trailing bytes")
}

func TestDecodeRejectsBadLengths(t *testing.T) {
	_, err := decodeOutpointKey(make([]byte, 35))
	require.Error(t, err, "outpoint")
	_, err = decodeIndexEntry(make([]byte, 36))
	require.Error(t, err, "index")
	_, _, err = decodeTip(make([]byte, 35))
	require.Error(t, err, "tip")
	_, err = decodeUtxoEntry([]byte{1, 2, 3})
	require.Error(t, err, "utxo")
}

func ptrHash(h chainhash.Hash) *chainhash.Hash { return &h }
