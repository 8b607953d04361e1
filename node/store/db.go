package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	bolt "go.etcd.io/bbolt"

	"rubin.dev/ctv/consensus"
)

var (
	bucketBlocks = []byte("blocks_by_hash")
	bucketIndex  = []byte("block_index_by_hash")
	bucketUtxo   = []byte("utxo_by_outpoint")
	bucketUndo   = []byte("undo_by_block_hash")
	bucketMeta   = []byte("meta")

	keyTip = []byte("tip")
)

type BlockStatus byte

const (
	BlockStatusUnknown BlockStatus = 0
	BlockStatusValid   BlockStatus = 1
	BlockStatusInvalid BlockStatus = 2
)

func (s BlockStatus) String() string {
	switch s {
	case BlockStatusValid:
		return "valid"
	case BlockStatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type BlockIndexEntry struct {
	Height   uint32
	PrevHash chainhash.Hash
	Status   BlockStatus
}

type DB struct {
	chainDir string
	db       *bolt.DB
}

func ChainDir(datadir, network string) string {
	return filepath.Join(datadir, "chains", network)
}

func Open(datadir string, network string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if network == "" {
		return nil, fmt.Errorf("network required")
	}

	chainDir := ChainDir(datadir, network)
	if err := os.MkdirAll(chainDir, 0o750); err != nil {
		return nil, fmt.Errorf("create chain dir: %w", err)
	}

	path := filepath.Join(chainDir, "chain.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketIndex, bucketUtxo, bucketUndo, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	log.Debugf("Opened chain database %s", path)
	return &DB{chainDir: chainDir, db: bdb}, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

// Tip returns the active chain tip. ok is false for an uninitialised chain.
func (d *DB) Tip() (hash chainhash.Hash, height uint32, ok bool, err error) {
	err = d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyTip)
		if v == nil {
			return nil
		}
		hash, height, err = decodeTip(v)
		ok = err == nil
		return err
	})
	return hash, height, ok, err
}

// InitGenesis stores genesis as the tip at height 0. Its outputs are not
// added to the UTXO set.
func (d *DB) InitGenesis(genesis *wire.MsgBlock) error {
	if genesis == nil {
		return fmt.Errorf("genesis block required")
	}
	raw, err := serializeBlock(genesis)
	if err != nil {
		return err
	}
	hash := genesis.BlockHash()
	return d.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketMeta).Get(keyTip) != nil {
			return fmt.Errorf("chain already initialized")
		}
		if err := tx.Bucket(bucketBlocks).Put(hash[:], raw); err != nil {
			return err
		}
		idx := encodeIndexEntry(BlockIndexEntry{Height: 0, Status: BlockStatusValid})
		if err := tx.Bucket(bucketIndex).Put(hash[:], idx); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyTip, encodeTip(hash, 0))
	})
}

func (d *DB) GetBlock(hash chainhash.Hash) (*wire.MsgBlock, bool, error) {
	var out *wire.MsgBlock
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(hash[:])
		if v == nil {
			return nil
		}
		var b wire.MsgBlock
		if err := b.Deserialize(bytes.NewReader(v)); err != nil {
			return fmt.Errorf("block %s: %w", hash, err)
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (d *DB) GetIndex(hash chainhash.Hash) (*BlockIndexEntry, bool, error) {
	var out *BlockIndexEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get(hash[:])
		if v == nil {
			return nil
		}
		e, err := decodeIndexEntry(v)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (d *DB) PutIndex(hash chainhash.Hash, e BlockIndexEntry) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Put(hash[:], encodeIndexEntry(e))
	})
}

func (d *DB) GetUTXO(op wire.OutPoint) (consensus.UtxoEntry, bool, error) {
	var out consensus.UtxoEntry
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUtxo).Get(encodeOutpointKey(op))
		if v == nil {
			return nil
		}
		e, err := decodeUtxoEntry(v)
		if err != nil {
			return err
		}
		out, ok = e, true
		return nil
	})
	return out, ok, err
}

func (d *DB) LoadUTXOSet() (consensus.UtxoSet, error) {
	set := make(consensus.UtxoSet)
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUtxo).ForEach(func(k, v []byte) error {
			op, err := decodeOutpointKey(k)
			if err != nil {
				return err
			}
			e, err := decodeUtxoEntry(v)
			if err != nil {
				return err
			}
			set[op] = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (d *DB) GetUndo(hash chainhash.Hash) (*consensus.BlockUndo, bool, error) {
	var out *consensus.BlockUndo
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUndo).Get(hash[:])
		if v == nil {
			return nil
		}
		u, err := decodeUndo(v)
		if err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// ConnectBlock persists a connected block as the new tip in one bbolt
// transaction. view must resolve every outpoint in undo.Created.
func (d *DB) ConnectBlock(block *wire.MsgBlock, height uint32, undo *consensus.BlockUndo, view consensus.UtxoView) error {
	raw, err := serializeBlock(block)
	if err != nil {
		return err
	}
	undoBytes, err := encodeUndo(undo)
	if err != nil {
		return err
	}
	hash := block.BlockHash()
	err = d.db.Update(func(tx *bolt.Tx) error {
		utxos := tx.Bucket(bucketUtxo)
		for _, s := range undo.Spent {
			if err := utxos.Delete(encodeOutpointKey(s.OutPoint)); err != nil {
				return err
			}
		}
		for _, op := range undo.Created {
			e, ok := view.FetchUtxo(op)
			if !ok {
				return fmt.Errorf("connect %s: created output %s missing from view", hash, op)
			}
			v, err := encodeUtxoEntry(e)
			if err != nil {
				return err
			}
			if err := utxos.Put(encodeOutpointKey(op), v); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketBlocks).Put(hash[:], raw); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUndo).Put(hash[:], undoBytes); err != nil {
			return err
		}
		idx := BlockIndexEntry{Height: height, PrevHash: block.Header.PrevBlock, Status: BlockStatusValid}
		if err := tx.Bucket(bucketIndex).Put(hash[:], encodeIndexEntry(idx)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyTip, encodeTip(hash, height))
	})
	if err != nil {
		return fmt.Errorf("store connect %s: %w", hash, err)
	}
	log.Tracef("Stored block %s at height %d (%d spent, %d created)", hash, height, len(undo.Spent), len(undo.Created))
	return nil
}

// DisconnectBlock reverts the tip block hash using its undo record and makes
// its parent the tip. The block and its index entry are kept.
func (d *DB) DisconnectBlock(hash chainhash.Hash, undo *consensus.BlockUndo, prev chainhash.Hash, prevHeight uint32) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		utxos := tx.Bucket(bucketUtxo)
		for _, op := range undo.Created {
			if err := utxos.Delete(encodeOutpointKey(op)); err != nil {
				return err
			}
		}
		for _, s := range undo.Spent {
			v, err := encodeUtxoEntry(s.Entry)
			if err != nil {
				return err
			}
			if err := utxos.Put(encodeOutpointKey(s.OutPoint), v); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketUndo).Delete(hash[:]); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyTip, encodeTip(prev, prevHeight))
	})
	if err != nil {
		return fmt.Errorf("store disconnect %s: %w", hash, err)
	}
	log.Tracef("Disconnected block %s, tip now %s", hash, prev)
	return nil
}

func serializeBlock(b *wire.MsgBlock) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(b.SerializeSize())
	if err := b.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize block: %w", err)
	}
	return buf.Bytes(), nil
}
