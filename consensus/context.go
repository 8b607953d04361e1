package consensus

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/crypto"
)

// TxContext carries everything one script evaluation pass over a transaction
// needs. It owns the pass's TemplateHashCache and lazily computed signature
// hash midstates, so it must stay on one goroutine.
type TxContext struct {
	Tx       *wire.MsgTx
	Provider crypto.Provider

	prevOuts  []*wire.TxOut
	fetcher   *txscript.MultiPrevOutFetcher
	templates *TemplateHashCache
	sigHashes *txscript.TxSigHashes
	sigCache  *txscript.SigCache
}

// NewTxContext binds tx to the outputs it spends. prevOuts is indexed like
// tx.TxIn; entries may be nil when the spent output is unknown, in which case
// only spends that never look at the prevout can be verified.
func NewTxContext(p crypto.Provider, tx *wire.MsgTx, prevOuts []*wire.TxOut) *TxContext {
	if p == nil {
		p = crypto.StdProvider{}
	}
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	if tx != nil {
		for i, in := range tx.TxIn {
			if i < len(prevOuts) && prevOuts[i] != nil {
				fetcher.AddPrevOut(in.PreviousOutPoint, prevOuts[i])
			}
		}
	}
	return &TxContext{
		Tx:        tx,
		Provider:  p,
		prevOuts:  prevOuts,
		fetcher:   fetcher,
		templates: NewTemplateHashCache(p, tx),
	}
}

// Fresh returns a context for a new pass over the same transaction and
// prevouts, with empty caches.
func (tc *TxContext) Fresh() *TxContext {
	return NewTxContext(tc.Provider, tc.Tx, tc.prevOuts)
}

func (tc *TxContext) PrevOut(inputIndex uint32) *wire.TxOut {
	if uint64(inputIndex) >= uint64(len(tc.prevOuts)) {
		return nil
	}
	return tc.prevOuts[inputIndex]
}

func (tc *TxContext) TemplateHash(inputIndex uint32) ([32]byte, error) {
	return tc.templates.Hash(inputIndex)
}

// Templates exposes the pass's template cache.
func (tc *TxContext) Templates() *TemplateHashCache {
	return tc.templates
}

func (tc *TxContext) taprootSigHashes() (*txscript.TxSigHashes, error) {
	if tc.sigHashes != nil {
		return tc.sigHashes, nil
	}
	for i := range tc.Tx.TxIn {
		if tc.PrevOut(uint32(i)) == nil { // #nosec G115 -- input count is bounded by block size.
			return nil, txerr(TX_ERR_MISSING_UTXO, "taproot sighash needs every spent output")
		}
	}
	tc.sigHashes = txscript.NewTxSigHashes(tc.Tx, tc.fetcher)
	if tc.sigCache == nil {
		tc.sigCache = txscript.NewSigCache(uint(len(tc.Tx.TxIn)) + 1)
	}
	return tc.sigHashes, nil
}
