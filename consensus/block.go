package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func CalcMerkleRoot(txs []*wire.MsgTx) chainhash.Hash {
	if len(txs) == 0 {
		return chainhash.Hash{}
	}
	utxs := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		utxs[i] = btcutil.NewTx(tx)
	}
	store := blockchain.BuildMerkleTreeStore(utxs, false)
	return *store[len(store)-1]
}

// CheckBlockSanity runs the checks that need no chain state: coinbase
// placement, per-transaction sanity, duplicate txids, the merkle root and the
// witness commitment.
func CheckBlockSanity(block *wire.MsgBlock) error {
	if block == nil {
		return txerr(BLOCK_ERR_PARSE, "nil block")
	}
	if len(block.Transactions) == 0 || !IsCoinbase(block.Transactions[0]) {
		return txerr(BLOCK_ERR_COINBASE_MISSING, "")
	}
	seen := make(map[chainhash.Hash]struct{}, len(block.Transactions))
	for i, tx := range block.Transactions {
		if i > 0 && IsCoinbase(tx) {
			return txerr(BLOCK_ERR_COINBASE_MULTIPLE, fmt.Sprintf("tx %d", i))
		}
		if err := CheckTransactionSanity(tx); err != nil {
			return err
		}
		h := tx.TxHash()
		if _, dup := seen[h]; dup {
			return txerr(BLOCK_ERR_DUPLICATE_TX, h.String())
		}
		seen[h] = struct{}{}
	}
	if CalcMerkleRoot(block.Transactions) != block.Header.MerkleRoot {
		return txerr(BLOCK_ERR_MERKLE_INVALID, "")
	}
	return checkWitnessCommitment(block)
}

// checkWitnessCommitment binds every wtxid to the header through the BIP141
// coinbase commitment.
func checkWitnessCommitment(block *wire.MsgBlock) error {
	err := blockchain.ValidateWitnessCommitment(btcutil.NewBlock(block))
	if err == nil {
		return nil
	}
	var rerr blockchain.RuleError
	if errors.As(err, &rerr) && rerr.ErrorCode == blockchain.ErrUnexpectedWitness {
		return txerr(BLOCK_ERR_UNEXPECTED_WIT, rerr.Description)
	}
	return txerr(BLOCK_ERR_WITNESS_COMMIT, err.Error())
}

// ConnectBlock applies block at height on top of view and verifies its
// scripts on q. view is not modified; the returned set is the new state.
func ConnectBlock(ctx context.Context, q *CheckQueue, block *wire.MsgBlock, view UtxoSet, height uint32, subsidy int64, flags ScriptFlags) (UtxoSet, *BlockUndo, error) {
	if err := CheckBlockSanity(block); err != nil {
		return nil, nil, err
	}
	if q == nil {
		q = NewCheckQueue(nil, 1)
	}

	work := view.Clone()
	created := make(map[wire.OutPoint]struct{})
	undo := &BlockUndo{}
	checks := make([]ScriptCheck, 0, len(block.Transactions)-1)

	addOutputs := func(tx *wire.MsgTx, coinbase bool) error {
		h := tx.TxHash()
		for i, out := range tx.TxOut {
			op := wire.OutPoint{Hash: h, Index: uint32(i)} // #nosec G115 -- output count is bounded by block size.
			if _, exists := work[op]; exists {
				return txerr(BLOCK_ERR_DUPLICATE_TX, "output already unspent: "+op.String())
			}
			work[op] = UtxoEntry{Output: *out, Height: height, Coinbase: coinbase}
			created[op] = struct{}{}
		}
		return nil
	}

	var fees int64
	for _, tx := range block.Transactions[1:] {
		fee, prevOuts, err := CheckTxInputs(tx, work)
		if err != nil {
			return nil, nil, err
		}
		fees += fee
		for _, in := range tx.TxIn {
			op := in.PreviousOutPoint
			if _, ok := created[op]; ok {
				delete(created, op)
			} else {
				undo.Spent = append(undo.Spent, SpentOutput{OutPoint: op, Entry: work[op]})
			}
			delete(work, op)
		}
		if err := addOutputs(tx, false); err != nil {
			return nil, nil, err
		}
		checks = append(checks, ScriptCheck{Tx: tx, PrevOuts: prevOuts})
	}

	coinbase := block.Transactions[0]
	var paid int64
	for _, out := range coinbase.TxOut {
		paid += out.Value
	}
	if paid > subsidy+fees {
		return nil, nil, txerr(BLOCK_ERR_COINBASE_AMOUNT, fmt.Sprintf("coinbase pays %d > %d", paid, subsidy+fees))
	}
	if err := addOutputs(coinbase, true); err != nil {
		return nil, nil, err
	}

	if err := q.Verify(ctx, checks, flags); err != nil {
		return nil, nil, err
	}

	undo.Created = make([]wire.OutPoint, 0, len(created))
	for _, tx := range block.Transactions {
		h := tx.TxHash()
		for i := range tx.TxOut {
			op := wire.OutPoint{Hash: h, Index: uint32(i)} // #nosec G115 -- output count is bounded by block size.
			if _, ok := created[op]; ok {
				undo.Created = append(undo.Created, op)
			}
		}
	}
	return work, undo, nil
}

// DisconnectBlock reverses a block connected with ConnectBlock.
func DisconnectBlock(undo *BlockUndo, view UtxoSet) (UtxoSet, error) {
	if undo == nil {
		return nil, fmt.Errorf("disconnect: nil undo record")
	}
	work := view.Clone()
	for _, op := range undo.Created {
		if _, ok := work[op]; !ok {
			return nil, fmt.Errorf("disconnect: created output %s missing", op)
		}
		delete(work, op)
	}
	for _, s := range undo.Spent {
		work[s.OutPoint] = s.Entry
	}
	return work, nil
}
