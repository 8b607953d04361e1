package consensus

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/crypto"
)

// TemplateHashVersion identifies the commitment preimage layout below. Any
// change to the layout breaks every commitment already on chain.
//
// Layout (integers little-endian, H = single SHA-256):
//
//	i32 version
//	u32 locktime
//	H(varbytes(scriptSig)...)    only when some input has a non-empty scriptSig
//	u32 input count
//	H(u32 sequence...)
//	u32 output count
//	H(i64 value || varbytes(pkScript)...)
//	u32 input index
const TemplateHashVersion = 1

const (
	DefaultTemplateVersion  int32 = 2
	DefaultTemplateSequence       = wire.MaxTxInSequenceNum
)

type templateDigests struct {
	hasScriptSigs bool
	scriptSigs    [32]byte
	sequences     [32]byte
	outputs       [32]byte
}

func computeTemplateDigests(p crypto.Provider, tx *wire.MsgTx) (*templateDigests, error) {
	d := &templateDigests{}
	var tmp4 [4]byte

	var sigs bytes.Buffer
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) != 0 {
			d.hasScriptSigs = true
		}
		if err := wire.WriteVarBytes(&sigs, 0, in.SignatureScript); err != nil {
			return nil, fmt.Errorf("template: scriptSig: %w", err)
		}
	}
	if d.hasScriptSigs {
		d.scriptSigs = p.SHA256(sigs.Bytes())
	}

	seqs := make([]byte, 0, 4*len(tx.TxIn))
	for _, in := range tx.TxIn {
		binary.LittleEndian.PutUint32(tmp4[:], in.Sequence)
		seqs = append(seqs, tmp4[:]...)
	}
	d.sequences = p.SHA256(seqs)

	var outs bytes.Buffer
	for _, out := range tx.TxOut {
		if err := wire.WriteTxOut(&outs, 0, tx.Version, out); err != nil {
			return nil, fmt.Errorf("template: output: %w", err)
		}
	}
	d.outputs = p.SHA256(outs.Bytes())
	return d, nil
}

func templateHashFromDigests(p crypto.Provider, tx *wire.MsgTx, d *templateDigests, inputIndex uint32) [32]byte {
	preimage := make([]byte, 0, 4+4+32+4+32+4+32+4)
	var tmp4 [4]byte

	binary.LittleEndian.PutUint32(tmp4[:], uint32(tx.Version)) // #nosec G115 -- two's complement layout is the wire format.
	preimage = append(preimage, tmp4[:]...)
	binary.LittleEndian.PutUint32(tmp4[:], tx.LockTime)
	preimage = append(preimage, tmp4[:]...)
	if d.hasScriptSigs {
		preimage = append(preimage, d.scriptSigs[:]...)
	}
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(tx.TxIn))) // #nosec G115 -- input count is bounded by block size.
	preimage = append(preimage, tmp4[:]...)
	preimage = append(preimage, d.sequences[:]...)
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(tx.TxOut))) // #nosec G115 -- output count is bounded by block size.
	preimage = append(preimage, tmp4[:]...)
	preimage = append(preimage, d.outputs[:]...)
	binary.LittleEndian.PutUint32(tmp4[:], inputIndex)
	preimage = append(preimage, tmp4[:]...)

	return p.SHA256(preimage)
}

func checkTemplateIndex(tx *wire.MsgTx, inputIndex uint32) error {
	if tx == nil {
		return txerr(TX_ERR_PARSE, "template: nil tx")
	}
	if uint64(inputIndex) >= uint64(len(tx.TxIn)) {
		return txerr(TX_ERR_PARSE, fmt.Sprintf("template: input_index %d out of bounds (%d inputs)", inputIndex, len(tx.TxIn)))
	}
	return nil
}

// TemplateHash computes the OP_CHECKTEMPLATEVERIFY commitment of tx when it
// is spent at inputIndex. Witnesses and prevouts never contribute.
func TemplateHash(p crypto.Provider, tx *wire.MsgTx, inputIndex uint32) ([32]byte, error) {
	if err := checkTemplateIndex(tx, inputIndex); err != nil {
		return [32]byte{}, err
	}
	d, err := computeTemplateDigests(p, tx)
	if err != nil {
		return [32]byte{}, err
	}
	return templateHashFromDigests(p, tx, d, inputIndex), nil
}

// TemplateHashCache memoises template hashes for one transaction during one
// evaluation pass. The sub-digests are shared by all indices; the final hash
// is cached per input index.
//
// A cache is bound to a single transaction and must not be used from more
// than one goroutine.
type TemplateHashCache struct {
	p       crypto.Provider
	tx      *wire.MsgTx
	digests *templateDigests
	byIndex map[uint32][32]byte
}

func NewTemplateHashCache(p crypto.Provider, tx *wire.MsgTx) *TemplateHashCache {
	return &TemplateHashCache{
		p:       p,
		tx:      tx,
		byIndex: make(map[uint32][32]byte),
	}
}

func (c *TemplateHashCache) Hash(inputIndex uint32) ([32]byte, error) {
	if h, ok := c.byIndex[inputIndex]; ok {
		return h, nil
	}
	if err := checkTemplateIndex(c.tx, inputIndex); err != nil {
		return [32]byte{}, err
	}
	if c.digests == nil {
		d, err := computeTemplateDigests(c.p, c.tx)
		if err != nil {
			return [32]byte{}, err
		}
		c.digests = d
	}
	h := templateHashFromDigests(c.p, c.tx, c.digests, inputIndex)
	c.byIndex[inputIndex] = h
	return h, nil
}

// Len reports how many input indices have a cached hash.
func (c *TemplateHashCache) Len() int {
	return len(c.byIndex)
}

// Template is the transaction shape a commitment pins down. Prevouts and
// witnesses are not part of it.
type Template struct {
	Version    int32
	LockTime   uint32
	Sequences  []uint32
	ScriptSigs [][]byte
	Outputs    []*wire.TxOut
}

// NewTemplate returns a version 2, locktime 0 template with inputCount inputs
// carrying the final sequence and empty scriptSigs.
func NewTemplate(outputs []*wire.TxOut, inputCount int) Template {
	seqs := make([]uint32, inputCount)
	for i := range seqs {
		seqs[i] = DefaultTemplateSequence
	}
	return Template{
		Version:   DefaultTemplateVersion,
		Sequences: seqs,
		Outputs:   outputs,
	}
}

// Tx materialises the template as a transaction with null prevouts.
func (t Template) Tx() *wire.MsgTx {
	tx := wire.NewMsgTx(t.Version)
	tx.LockTime = t.LockTime
	for i, seq := range t.Sequences {
		var sig []byte
		if i < len(t.ScriptSigs) && len(t.ScriptSigs[i]) > 0 {
			sig = append([]byte(nil), t.ScriptSigs[i]...)
		}
		in := wire.NewTxIn(&wire.OutPoint{}, sig, nil)
		in.Sequence = seq
		tx.AddTxIn(in)
	}
	for _, out := range t.Outputs {
		tx.AddTxOut(wire.NewTxOut(out.Value, append([]byte(nil), out.PkScript...)))
	}
	return tx
}

func (t Template) Hash(p crypto.Provider, inputIndex uint32) ([32]byte, error) {
	return TemplateHash(p, t.Tx(), inputIndex)
}
