package consensus

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	MinCoinbaseScriptLen = 2
	MaxCoinbaseScriptLen = 100
)

func IsCoinbase(tx *wire.MsgTx) bool {
	return tx != nil && blockchain.IsCoinBaseTx(tx)
}

// CheckTransactionSanity runs the context-free structural checks.
func CheckTransactionSanity(tx *wire.MsgTx) error {
	if tx == nil {
		return txerr(TX_ERR_PARSE, "nil tx")
	}
	if len(tx.TxIn) == 0 {
		return txerr(TX_ERR_VIN_EMPTY, "")
	}
	if len(tx.TxOut) == 0 {
		return txerr(TX_ERR_VOUT_EMPTY, "")
	}

	var total int64
	for i, out := range tx.TxOut {
		if out.Value < 0 || out.Value > btcutil.MaxSatoshi {
			return txerr(TX_ERR_VALUE_RANGE, fmt.Sprintf("output %d value %d", i, out.Value))
		}
		total += out.Value
		if total > btcutil.MaxSatoshi {
			return txerr(TX_ERR_VALUE_RANGE, "total output value out of range")
		}
	}

	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for _, in := range tx.TxIn {
		if _, dup := seen[in.PreviousOutPoint]; dup {
			return txerr(TX_ERR_DUPLICATE_INPUT, in.PreviousOutPoint.String())
		}
		seen[in.PreviousOutPoint] = struct{}{}
	}

	if IsCoinbase(tx) {
		n := len(tx.TxIn[0].SignatureScript)
		if n < MinCoinbaseScriptLen || n > MaxCoinbaseScriptLen {
			return txerr(TX_ERR_PARSE, fmt.Sprintf("coinbase scriptSig length %d", n))
		}
		return nil
	}
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint.Index == wire.MaxPrevOutIndex && in.PreviousOutPoint.Hash == (chainhash.Hash{}) {
			return txerr(TX_ERR_PARSE, fmt.Sprintf("input %d has a null prevout", i))
		}
	}
	return nil
}

// CheckTxInputs resolves every input of a non-coinbase tx against view and
// enforces value conservation. It returns the fee and the spent outputs in
// input order.
func CheckTxInputs(tx *wire.MsgTx, view UtxoView) (int64, []*wire.TxOut, error) {
	if IsCoinbase(tx) {
		return 0, nil, txerr(TX_ERR_UNEXPECTED_COINBASE, "")
	}
	prevOuts := make([]*wire.TxOut, len(tx.TxIn))
	var in int64
	for i, txIn := range tx.TxIn {
		entry, ok := view.FetchUtxo(txIn.PreviousOutPoint)
		if !ok {
			return 0, nil, txerr(TX_ERR_MISSING_UTXO, txIn.PreviousOutPoint.String())
		}
		out := entry.Output
		prevOuts[i] = &out
		in += out.Value
		if out.Value < 0 || in > btcutil.MaxSatoshi {
			return 0, nil, txerr(TX_ERR_VALUE_RANGE, "input value out of range")
		}
	}
	var out int64
	for _, o := range tx.TxOut {
		out += o.Value
	}
	if out > in {
		return 0, nil, txerr(TX_ERR_VALUE_CONSERVATION, fmt.Sprintf("in %d < out %d", in, out))
	}
	return in - out, prevOuts, nil
}
