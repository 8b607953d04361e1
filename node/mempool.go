package node

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/consensus"
)

type poolTx struct {
	tx  *wire.MsgTx
	fee int64
}

// mempool holds relay-accepted transactions in admission order. It is
// guarded by the node mutex.
type mempool struct {
	max   int
	txs   map[chainhash.Hash]*poolTx
	order []chainhash.Hash
	spent map[wire.OutPoint]chainhash.Hash
}

func newMempool(max int) *mempool {
	return &mempool{
		max:   max,
		txs:   make(map[chainhash.Hash]*poolTx),
		spent: make(map[wire.OutPoint]chainhash.Hash),
	}
}

func (m *mempool) Len() int { return len(m.txs) }

func (m *mempool) Full() bool { return len(m.txs) >= m.max }

func (m *mempool) Has(h chainhash.Hash) bool {
	_, ok := m.txs[h]
	return ok
}

// Conflict returns the pool transaction already spending one of tx's inputs.
func (m *mempool) Conflict(tx *wire.MsgTx) (chainhash.Hash, bool) {
	for _, in := range tx.TxIn {
		if h, ok := m.spent[in.PreviousOutPoint]; ok {
			return h, true
		}
	}
	return chainhash.Hash{}, false
}

func (m *mempool) add(tx *wire.MsgTx, fee int64) chainhash.Hash {
	h := tx.TxHash()
	m.txs[h] = &poolTx{tx: tx, fee: fee}
	m.order = append(m.order, h)
	for _, in := range tx.TxIn {
		m.spent[in.PreviousOutPoint] = h
	}
	return h
}

// remove drops h and, when withDescendants is set, every pool transaction
// spending its outputs.
func (m *mempool) remove(h chainhash.Hash, withDescendants bool) int {
	ptx, ok := m.txs[h]
	if !ok {
		return 0
	}
	delete(m.txs, h)
	for _, in := range ptx.tx.TxIn {
		if m.spent[in.PreviousOutPoint] == h {
			delete(m.spent, in.PreviousOutPoint)
		}
	}
	for i, oh := range m.order {
		if oh == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	n := 1
	if withDescendants {
		for i := range ptx.tx.TxOut {
			op := wire.OutPoint{Hash: h, Index: uint32(i)} // #nosec G115 -- output count is bounded by block size.
			if child, ok := m.spent[op]; ok {
				n += m.remove(child, true)
			}
		}
	}
	return n
}

// RemoveForBlock evicts transactions the block confirmed and those that
// conflict with it, together with their descendants.
func (m *mempool) RemoveForBlock(block *wire.MsgBlock) int {
	n := 0
	for _, tx := range block.Transactions {
		h := tx.TxHash()
		n += m.remove(h, false)
		for _, in := range tx.TxIn {
			if other, ok := m.spent[in.PreviousOutPoint]; ok && other != h {
				n += m.remove(other, true)
			}
		}
	}
	return n
}

// Txs returns pool transactions in admission order, which is also a valid
// topological order.
func (m *mempool) Txs() []*wire.MsgTx {
	out := make([]*wire.MsgTx, 0, len(m.order))
	for _, h := range m.order {
		out = append(out, m.txs[h].tx)
	}
	return out
}

// poolView resolves outpoints against the chain UTXO set, then against
// outputs of pool transactions.
type poolView struct {
	chain consensus.UtxoView
	pool  *mempool
}

func (v poolView) FetchUtxo(op wire.OutPoint) (consensus.UtxoEntry, bool) {
	if e, ok := v.chain.FetchUtxo(op); ok {
		return e, true
	}
	ptx, ok := v.pool.txs[op.Hash]
	if !ok || int(op.Index) >= len(ptx.tx.TxOut) {
		return consensus.UtxoEntry{}, false
	}
	return consensus.UtxoEntry{Output: *ptx.tx.TxOut[op.Index]}, true
}
