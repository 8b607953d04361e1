package node

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mining"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/golang/groupcache/lru"

	"rubin.dev/ctv/consensus"
	"rubin.dev/ctv/crypto"
	"rubin.dev/ctv/node/store"
)

const (
	reasonAlreadyInPool = "txn-already-in-mempool"
	reasonPoolConflict  = "txn-mempool-conflict"
	reasonPoolFull      = "mempool full"
	reasonDuplicate     = "duplicate"
	reasonDupInvalid    = "duplicate-invalid"
	reasonInternal      = "internal-error"

	blockVersion = 0x20000000
)

// RejectError is returned when relay admission refuses a transaction. Reason
// is the stable reject string.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

// Node is a single-process devnet chain with a relay pool. Chain state and
// the pool are guarded by one mutex.
type Node struct {
	cfg    Config
	params *chaincfg.Params
	p      crypto.Provider
	db     *store.DB
	queue  *consensus.CheckQueue

	mu         sync.Mutex
	tipHash    chainhash.Hash
	tipHeight  uint32
	tipTime    time.Time
	utxos      consensus.UtxoSet
	pool       *mempool
	rejects    *lru.Cache
	extraNonce uint64
}

func Open(cfg Config) (*Node, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	params, err := NetParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.DataDir, params.Name)
	if err != nil {
		return nil, err
	}
	n := &Node{
		cfg:    cfg,
		params: params,
		p:      crypto.StdProvider{},
		db:     db,
		queue:  consensus.NewCheckQueue(crypto.StdProvider{}, cfg.ScriptThreads),
		pool:   newMempool(cfg.MaxMempoolTxs),
	}
	if cfg.RecentRejects > 0 {
		n.rejects = lru.New(cfg.RecentRejects)
	}
	if err := n.loadChain(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("Opened %s chain at %s, tip %s height %d (%d utxos)",
		params.Name, db.ChainDir(), n.tipHash, n.tipHeight, len(n.utxos))
	return n, nil
}

func (n *Node) loadChain() error {
	hash, height, ok, err := n.db.Tip()
	if err != nil {
		return err
	}
	if !ok {
		if err := n.db.InitGenesis(n.params.GenesisBlock); err != nil {
			return fmt.Errorf("init genesis: %w", err)
		}
		hash, height = n.params.GenesisBlock.BlockHash(), 0
		log.Infof("Initialized chain with genesis %s", hash)
	}
	tip, ok, err := n.db.GetBlock(hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tip block %s missing", hash)
	}
	utxos, err := n.db.LoadUTXOSet()
	if err != nil {
		return fmt.Errorf("load utxo set: %w", err)
	}
	n.tipHash, n.tipHeight, n.tipTime = hash, height, tip.Header.Timestamp
	n.utxos = utxos
	return nil
}

func (n *Node) Close() error {
	return n.db.Close()
}

func (n *Node) Params() *chaincfg.Params { return n.params }

func (n *Node) Tip() (chainhash.Hash, uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tipHash, n.tipHeight
}

func (n *Node) BlockCount() uint32 {
	_, h := n.Tip()
	return h
}

func (n *Node) BestBlockHash() chainhash.Hash {
	h, _ := n.Tip()
	return h
}

// FetchUtxo looks op up in the confirmed UTXO set.
func (n *Node) FetchUtxo(op wire.OutPoint) (consensus.UtxoEntry, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.utxos.FetchUtxo(op)
}

func (n *Node) InMempool(h chainhash.Hash) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pool.Has(h)
}

func (n *Node) MempoolTxs() []*wire.MsgTx {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pool.Txs()
}

func (n *Node) GetBlock(hash chainhash.Hash) (*wire.MsgBlock, bool, error) {
	return n.db.GetBlock(hash)
}

// SubmitTransaction runs relay admission for tx. A refusal is a
// *RejectError carrying the reject reason.
func (n *Node) SubmitTransaction(tx *wire.MsgTx) (chainhash.Hash, error) {
	if tx == nil {
		return chainhash.Hash{}, &RejectError{Reason: consensus.TX_ERR_PARSE.Reason()}
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	h := tx.TxHash()
	wtxid := tx.WitnessHash()
	if n.rejects != nil {
		if v, ok := n.rejects.Get(wtxid); ok {
			return h, &RejectError{Reason: v.(string)}
		}
	}
	if n.pool.Has(h) {
		return h, &RejectError{Reason: reasonAlreadyInPool}
	}
	reason, cache := n.admitLocked(tx)
	if reason != "" {
		if cache && n.rejects != nil {
			n.rejects.Add(wtxid, reason)
		}
		log.Debugf("Rejected tx %s: %s", h, reason)
		return h, &RejectError{Reason: reason}
	}
	log.Debugf("Accepted tx %s (pool size %d)", h, n.pool.Len())
	return h, nil
}

// admitLocked adds tx to the pool or returns the reject reason. cache reports
// whether the rejection holds regardless of chain and pool state.
func (n *Node) admitLocked(tx *wire.MsgTx) (reason string, cache bool) {
	if err := consensus.CheckTransactionSanity(tx); err != nil {
		return rejectReason(err), true
	}
	if consensus.IsCoinbase(tx) {
		return consensus.TX_ERR_UNEXPECTED_COINBASE.Reason(), true
	}
	if tx.Version < 1 || tx.Version > 2 {
		return consensus.TX_ERR_NONSTANDARD_VERSION.Reason(), true
	}
	if _, ok := n.pool.Conflict(tx); ok {
		return reasonPoolConflict, false
	}
	fee, prevOuts, err := consensus.CheckTxInputs(tx, poolView{chain: n.utxos, pool: n.pool})
	if err != nil {
		return rejectReason(err), false
	}
	if n.pool.Full() {
		return reasonPoolFull, false
	}

	next := n.tipHeight + 1
	act := n.cfg.CTVActivationHeight
	tc := consensus.NewTxContext(n.p, tx, prevOuts)
	v := consensus.GateTransaction(tc, consensus.StandardFlagsAtHeight(next, act), consensus.ScriptFlagsAtHeight(next, act))
	if !v.Class.RelayAllowed() {
		return v.RelayReason(), true
	}
	n.pool.add(tx, fee)
	return "", false
}

// SubmitBlock connects block on the current tip. It returns "" on success and
// the reject reason otherwise.
func (n *Node) SubmitBlock(block *wire.MsgBlock) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.submitBlockLocked(context.Background(), block)
}

func (n *Node) submitBlockLocked(ctx context.Context, block *wire.MsgBlock) string {
	if block == nil {
		return consensus.BLOCK_ERR_PARSE.Reason()
	}
	hash := block.BlockHash()
	idx, known, err := n.db.GetIndex(hash)
	if err != nil {
		log.Errorf("Block index lookup %s: %v", hash, err)
		return reasonInternal
	}
	if known {
		if idx.Status == store.BlockStatusInvalid {
			return reasonDupInvalid
		}
		return reasonDuplicate
	}
	if block.Header.PrevBlock != n.tipHash {
		return consensus.BLOCK_ERR_LINKAGE_INVALID.Reason()
	}

	height := n.tipHeight + 1
	flags := consensus.ScriptFlagsAtHeight(height, n.cfg.CTVActivationHeight)
	subsidy := blockchain.CalcBlockSubsidy(int32(height), n.params) // #nosec G115 -- devnet heights stay far below 2^31.
	next, undo, err := consensus.ConnectBlock(ctx, n.queue, block, n.utxos, height, subsidy, flags)
	if err != nil {
		reason := rejectReason(err)
		if code, ok := consensus.ErrorCodeOf(err); ok && !code.Mutation() {
			entry := store.BlockIndexEntry{Height: height, PrevHash: block.Header.PrevBlock, Status: store.BlockStatusInvalid}
			if perr := n.db.PutIndex(hash, entry); perr != nil {
				log.Errorf("Mark block %s invalid: %v", hash, perr)
			}
		}
		log.Infof("Rejected block %s at height %d: %s (%v)", hash, height, reason, err)
		return reason
	}
	if err := n.db.ConnectBlock(block, height, undo, next); err != nil {
		log.Errorf("Persist block %s: %v", hash, err)
		return reasonInternal
	}

	n.utxos = next
	n.tipHash, n.tipHeight, n.tipTime = hash, height, block.Header.Timestamp
	evicted := n.pool.RemoveForBlock(block)
	n.clearRejectsLocked()
	log.Infof("Connected block %s height %d (%d txs, %d evicted from pool)",
		hash, height, len(block.Transactions), evicted)
	return ""
}

// rejectReason maps an error from consensus checks to its reject string.
// Script failures inside blocks get the block wrapping.
func rejectReason(err error) string {
	return consensus.Verdict{Class: consensus.Rejected, InputIndex: -1, Err: err}.BlockReason()
}

func (n *Node) clearRejectsLocked() {
	if n.rejects != nil {
		n.rejects.Clear()
	}
}

// GenerateBlock assembles a block on the tip paying the subsidy and fees to
// payTo and submits it. A nil txs takes the whole pool in admission order.
// An empty payTo pays to OP_TRUE. The coinbase always carries a witness
// commitment as its last output.
func (n *Node) GenerateBlock(txs []*wire.MsgTx, payTo []byte) (*wire.MsgBlock, string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	block, err := n.assembleBlockLocked(txs, payTo)
	if err != nil {
		log.Errorf("Assemble block: %v", err)
		return nil, reasonInternal
	}
	return block, n.submitBlockLocked(context.Background(), block)
}

func (n *Node) assembleBlockLocked(txs []*wire.MsgTx, payTo []byte) (*wire.MsgBlock, error) {
	if txs == nil {
		txs = n.pool.Txs()
	}
	if len(payTo) == 0 {
		payTo = []byte{txscript.OP_TRUE}
	}
	height := n.tipHeight + 1

	var fees int64
	for _, tx := range txs {
		if ptx, ok := n.pool.txs[tx.TxHash()]; ok {
			fees += ptx.fee
		}
	}

	n.extraNonce++
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], n.extraNonce)
	sigScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(height)).
		AddData(nonce[:]).
		Script()
	if err != nil {
		return nil, fmt.Errorf("coinbase script: %w", err)
	}
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), sigScript, nil))
	subsidy := blockchain.CalcBlockSubsidy(int32(height), n.params) // #nosec G115 -- devnet heights stay far below 2^31.
	coinbase.AddTxOut(wire.NewTxOut(subsidy+fees, payTo))

	all := make([]*wire.MsgTx, 0, len(txs)+1)
	all = append(all, coinbase)
	all = append(all, txs...)
	utxs := make([]*btcutil.Tx, len(all))
	for i, tx := range all {
		utxs[i] = btcutil.NewTx(tx)
	}
	mining.AddWitnessCommitment(utxs[0], utxs)

	ts := time.Unix(time.Now().Unix(), 0)
	if !ts.After(n.tipTime) {
		ts = n.tipTime.Add(time.Second)
	}
	prev := n.tipHash
	merkle := consensus.CalcMerkleRoot(all)
	block := wire.NewMsgBlock(wire.NewBlockHeader(blockVersion, &prev, &merkle, n.params.PowLimitBits, 0))
	block.Header.Timestamp = ts
	for _, tx := range all {
		if err := block.AddTransaction(tx); err != nil {
			return nil, err
		}
	}
	return block, nil
}

var ErrUnknownBlock = errors.New("block not found")

// InvalidateBlock marks hash invalid. When hash is on the active chain, the
// tip is disconnected down to and including hash; every disconnected block
// is marked invalid and its transactions are offered back to the pool.
func (n *Node) InvalidateBlock(hash chainhash.Hash) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	target, ok, err := n.db.GetIndex(hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}
	if target.Height == 0 {
		return errors.New("cannot invalidate genesis")
	}

	onChain, err := n.onActiveChainLocked(hash, target.Height)
	if err != nil {
		return err
	}
	if !onChain {
		target.Status = store.BlockStatusInvalid
		return n.db.PutIndex(hash, *target)
	}

	var disconnected [][]*wire.MsgTx
	for {
		cur := n.tipHash
		txs, err := n.disconnectTipLocked()
		if err != nil {
			return err
		}
		disconnected = append(disconnected, txs)
		if cur == hash {
			break
		}
	}
	n.clearRejectsLocked()

	old := n.pool.Txs()
	n.pool = newMempool(n.cfg.MaxMempoolTxs)
	readded := 0
	for i := len(disconnected) - 1; i >= 0; i-- {
		for _, tx := range disconnected[i] {
			if reason, _ := n.admitLocked(tx); reason == "" {
				readded++
			}
		}
	}
	for _, tx := range old {
		_, _ = n.admitLocked(tx)
	}
	log.Infof("Invalidated block %s; tip now %s height %d (%d txs returned to pool)",
		hash, n.tipHash, n.tipHeight, readded)
	return nil
}

func (n *Node) onActiveChainLocked(hash chainhash.Hash, height uint32) (bool, error) {
	cur := n.tipHash
	for h := n.tipHeight; h > height; h-- {
		e, ok, err := n.db.GetIndex(cur)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("index entry for active block %s missing", cur)
		}
		cur = e.PrevHash
	}
	return n.tipHeight >= height && cur == hash, nil
}

// disconnectTipLocked reverts the tip block, marks it invalid and returns its
// non-coinbase transactions.
func (n *Node) disconnectTipLocked() ([]*wire.MsgTx, error) {
	hash := n.tipHash
	block, ok, err := n.db.GetBlock(hash)
	if err != nil || !ok {
		return nil, fmt.Errorf("load tip block %s: ok=%v err=%v", hash, ok, err)
	}
	undo, ok, err := n.db.GetUndo(hash)
	if err != nil || !ok {
		return nil, fmt.Errorf("load undo %s: ok=%v err=%v", hash, ok, err)
	}
	next, err := consensus.DisconnectBlock(undo, n.utxos)
	if err != nil {
		return nil, err
	}
	prev := block.Header.PrevBlock
	prevBlock, ok, err := n.db.GetBlock(prev)
	if err != nil || !ok {
		return nil, fmt.Errorf("load parent block %s: ok=%v err=%v", prev, ok, err)
	}
	if err := n.db.DisconnectBlock(hash, undo, prev, n.tipHeight-1); err != nil {
		return nil, err
	}
	entry := store.BlockIndexEntry{Height: n.tipHeight, PrevHash: prev, Status: store.BlockStatusInvalid}
	if err := n.db.PutIndex(hash, entry); err != nil {
		return nil, err
	}
	n.utxos = next
	n.tipHash, n.tipHeight, n.tipTime = prev, n.tipHeight-1, prevBlock.Header.Timestamp
	log.Debugf("Disconnected block %s", hash)
	return block.Transactions[1:], nil
}
