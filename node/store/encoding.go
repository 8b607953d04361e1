package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/consensus"
)

func encodeOutpointKey(p wire.OutPoint) []byte {
	// txid(32) || vout(u32 little-endian)
	out := make([]byte, chainhash.HashSize+4)
	copy(out[:chainhash.HashSize], p.Hash[:])
	binary.LittleEndian.PutUint32(out[chainhash.HashSize:], p.Index)
	return out
}

func decodeOutpointKey(b []byte) (wire.OutPoint, error) {
	if len(b) != chainhash.HashSize+4 {
		return wire.OutPoint{}, fmt.Errorf("outpoint: expected 36 bytes, got %d", len(b))
	}
	var op wire.OutPoint
	copy(op.Hash[:], b[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(b[chainhash.HashSize:])
	return op, nil
}

func encodeUtxoEntry(e consensus.UtxoEntry) ([]byte, error) {
	// Layout:
	// height u32le | coinbase u8 | value i64le | pk_script varbytes
	var buf bytes.Buffer
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], e.Height)
	buf.Write(tmp4[:])
	if e.Coinbase {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	out := e.Output
	if err := wire.WriteTxOut(&buf, 0, 0, &out); err != nil {
		return nil, fmt.Errorf("utxo: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeUtxoEntry(b []byte) (consensus.UtxoEntry, error) {
	if len(b) < 4+1+8+1 {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: truncated")
	}
	e := consensus.UtxoEntry{
		Height:   binary.LittleEndian.Uint32(b[0:4]),
		Coinbase: b[4] == 1,
	}
	r := bytes.NewReader(b[5:])
	if err := wire.ReadTxOut(r, 0, 0, &e.Output); err != nil {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: %w", err)
	}
	if r.Len() != 0 {
		return consensus.UtxoEntry{}, fmt.Errorf("utxo: %d trailing bytes", r.Len())
	}
	return e, nil
}

func encodeUndo(u *consensus.BlockUndo) ([]byte, error) {
	if len(u.Spent) > 0xffffffff || len(u.Created) > 0xffffffff {
		return nil, fmt.Errorf("undo: too many items")
	}

	// Layout:
	// spent_count u32le
	//   (outpoint_key 36 | utxo_len u32le | utxo_bytes) * spent_count
	// created_count u32le
	//   (outpoint_key 36) * created_count
	out := make([]byte, 0, 4+len(u.Spent)*(36+4+48)+4+len(u.Created)*36)

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(u.Spent))) // #nosec G115 -- len checked against 0xffffffff above.
	out = append(out, tmp4[:]...)
	for _, s := range u.Spent {
		out = append(out, encodeOutpointKey(s.OutPoint)...)
		utxoBytes, err := encodeUtxoEntry(s.Entry)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(tmp4[:], uint32(len(utxoBytes))) // #nosec G115 -- a utxo entry is bounded by the script size limit.
		out = append(out, tmp4[:]...)
		out = append(out, utxoBytes...)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(u.Created))) // #nosec G115 -- len checked against 0xffffffff above.
	out = append(out, tmp4[:]...)
	for _, p := range u.Created {
		out = append(out, encodeOutpointKey(p)...)
	}
	return out, nil
}

func decodeUndo(b []byte) (*consensus.BlockUndo, error) {
	off := 0
	readU32 := func() (uint32, error) {
		if off+4 > len(b) {
			return 0, fmt.Errorf("undo: truncated u32")
		}
		v := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		return v, nil
	}
	readOutpoint := func() (wire.OutPoint, error) {
		if off+36 > len(b) {
			return wire.OutPoint{}, fmt.Errorf("undo: truncated outpoint")
		}
		p, err := decodeOutpointKey(b[off : off+36])
		off += 36
		return p, err
	}

	spentN, err := readU32()
	if err != nil {
		return nil, err
	}
	u := &consensus.BlockUndo{}
	for i := uint32(0); i < spentN; i++ {
		p, err := readOutpoint()
		if err != nil {
			return nil, err
		}
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		if uint64(off)+uint64(n) > uint64(len(b)) {
			return nil, fmt.Errorf("undo: truncated utxo")
		}
		e, err := decodeUtxoEntry(b[off : off+int(n)])
		if err != nil {
			return nil, err
		}
		off += int(n)
		u.Spent = append(u.Spent, consensus.SpentOutput{OutPoint: p, Entry: e})
	}

	createdN, err := readU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < createdN; i++ {
		p, err := readOutpoint()
		if err != nil {
			return nil, err
		}
		u.Created = append(u.Created, p)
	}
	if off != len(b) {
		return nil, fmt.Errorf("undo: %d trailing bytes", len(b)-off)
	}
	return u, nil
}

func encodeIndexEntry(e BlockIndexEntry) []byte {
	// Layout:
	// height u32le | prev_hash 32 | status u8
	out := make([]byte, 4+chainhash.HashSize+1)
	binary.LittleEndian.PutUint32(out[0:4], e.Height)
	copy(out[4:36], e.PrevHash[:])
	out[36] = byte(e.Status)
	return out
}

func decodeIndexEntry(b []byte) (*BlockIndexEntry, error) {
	if len(b) != 4+chainhash.HashSize+1 {
		return nil, fmt.Errorf("index: bad length %d", len(b))
	}
	e := &BlockIndexEntry{
		Height: binary.LittleEndian.Uint32(b[0:4]),
		Status: BlockStatus(b[36]),
	}
	copy(e.PrevHash[:], b[4:36])
	return e, nil
}

func encodeTip(hash chainhash.Hash, height uint32) []byte {
	out := make([]byte, chainhash.HashSize+4)
	copy(out, hash[:])
	binary.LittleEndian.PutUint32(out[chainhash.HashSize:], height)
	return out
}

func decodeTip(b []byte) (chainhash.Hash, uint32, error) {
	var h chainhash.Hash
	if len(b) != chainhash.HashSize+4 {
		return h, 0, fmt.Errorf("tip: bad length %d", len(b))
	}
	copy(h[:], b[:chainhash.HashSize])
	return h, binary.LittleEndian.Uint32(b[chainhash.HashSize:]), nil
}
