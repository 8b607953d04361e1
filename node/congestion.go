package node

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/consensus"
)

// TreeLevel records how one level of a congestion tree was expanded on chain.
type TreeLevel struct {
	Level int    `json:"level"`
	Txs   int    `json:"txs"`
	Block string `json:"block"`
}

type TreeReport struct {
	Funding   wire.OutPoint   `json:"-"`
	RootValue int64           `json:"root_value"`
	LeafValue int64           `json:"leaf_value"`
	Leaves    []wire.OutPoint `json:"-"`
	Levels    []TreeLevel     `json:"levels"`
}

// ExpandCongestionTree mines a coinbase, funds a congestion tree of the given
// depth from it and expands the tree through relay one level per block.
// Every leaf pays leafScript; each interior node reserves feePerNode for its
// expansion.
func (n *Node) ExpandCongestionTree(ctx context.Context, depth int, leafScript []byte, feePerNode int64) (*TreeReport, error) {
	if depth < 0 || depth > consensus.MaxTreeDepth {
		return nil, fmt.Errorf("tree depth %d out of range [0,%d]", depth, consensus.MaxTreeDepth)
	}
	if feePerNode < 0 || feePerNode > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("fee per node %d out of range [0,%d]", feePerNode, int64(btcutil.MaxSatoshi))
	}
	if len(leafScript) == 0 {
		leafScript = []byte{txscript.OP_TRUE}
	}
	fundBlock, reason := n.GenerateBlock([]*wire.MsgTx{}, nil)
	if reason != "" {
		return nil, fmt.Errorf("mine funding coinbase: %s", reason)
	}
	coinbase := fundBlock.Transactions[0]
	available := coinbase.TxOut[0].Value

	leaves := int64(1) << depth
	if leaves > 1 && feePerNode > available/(leaves-1) {
		return nil, fmt.Errorf("cannot reserve %d for each of %d nodes from %d", feePerNode, leaves-1, available)
	}
	leafValue := (available - feePerNode*(leaves-1)) / leaves
	if leafValue <= 0 {
		return nil, fmt.Errorf("cannot split %d into %d leaves", available, leaves)
	}
	tree, err := consensus.BuildCongestionTree(n.p, depth, func(int) *wire.TxOut {
		return wire.NewTxOut(leafValue, leafScript)
	}, feePerNode)
	if err != nil {
		return nil, err
	}

	fund := wire.NewMsgTx(consensus.DefaultTemplateVersion)
	fund.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: coinbase.TxHash(), Index: 0}, nil, nil))
	fund.AddTxOut(tree.Root())
	if err := n.relayAndMine(fund); err != nil {
		return nil, fmt.Errorf("fund tree: %w", err)
	}
	report := &TreeReport{
		Funding:   wire.OutPoint{Hash: fund.TxHash(), Index: 0},
		RootValue: tree.Root().Value,
		LeafValue: leafValue,
	}
	log.Infof("Funded congestion tree depth %d at %s (root %d, %d leaves of %d)",
		depth, report.Funding, report.RootValue, leaves, leafValue)

	txs, err := tree.Expand(report.Funding)
	if err != nil {
		return nil, err
	}
	off := 0
	for level := 0; level < tree.Depth(); level++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch := txs[off : off+(1<<level)]
		off += len(batch)
		for _, tx := range batch {
			if _, err := n.SubmitTransaction(tx); err != nil {
				return report, fmt.Errorf("level %d: relay %s: %w", level, tx.TxHash(), err)
			}
		}
		block, reason := n.GenerateBlock(nil, nil)
		if reason != "" {
			return report, fmt.Errorf("level %d: mine: %s", level, reason)
		}
		report.Levels = append(report.Levels, TreeLevel{Level: level, Txs: len(batch), Block: block.BlockHash().String()})
		log.Infof("Expanded congestion tree level %d: %d txs in block %s", level, len(batch), block.BlockHash())
	}

	if tree.Depth() == 0 {
		report.Leaves = []wire.OutPoint{report.Funding}
	} else {
		for _, tx := range txs[len(txs)-(1<<(tree.Depth()-1)):] {
			h := tx.TxHash()
			report.Leaves = append(report.Leaves, wire.OutPoint{Hash: h, Index: 0}, wire.OutPoint{Hash: h, Index: 1})
		}
	}
	return report, nil
}

func (n *Node) relayAndMine(tx *wire.MsgTx) error {
	if _, err := n.SubmitTransaction(tx); err != nil {
		return err
	}
	if _, reason := n.GenerateBlock(nil, nil); reason != "" {
		return fmt.Errorf("mine: %s", reason)
	}
	return nil
}
