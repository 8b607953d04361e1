package consensus

import "github.com/btcsuite/btcd/wire"

type UtxoEntry struct {
	Output   wire.TxOut
	Height   uint32
	Coinbase bool
}

// UtxoView resolves outpoints to unspent outputs.
type UtxoView interface {
	FetchUtxo(op wire.OutPoint) (UtxoEntry, bool)
}

type UtxoSet map[wire.OutPoint]UtxoEntry

func (s UtxoSet) FetchUtxo(op wire.OutPoint) (UtxoEntry, bool) {
	e, ok := s[op]
	return e, ok
}

func (s UtxoSet) Clone() UtxoSet {
	out := make(UtxoSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SpentOutput is an entry a block consumed, kept so the block can be undone.
type SpentOutput struct {
	OutPoint wire.OutPoint
	Entry    UtxoEntry
}

// BlockUndo records how a connected block changed the UTXO set. Outputs both
// created and spent inside the block appear in neither list.
type BlockUndo struct {
	Spent   []SpentOutput
	Created []wire.OutPoint
}
