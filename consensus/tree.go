package consensus

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/crypto"
)

const MaxTreeDepth = 20

// CongestionTree is a balanced binary tree of template commitments. Layer 0
// holds the root output, layer Depth() the 2^depth leaf outputs. Every
// interior output commits to the 1-input, 2-output transaction paying its
// two children.
type CongestionTree struct {
	layers    [][]*wire.TxOut
	templates [][]Template
}

// BuildCongestionTree builds the tree bottom-up. leaf(i) supplies the i-th
// leaf output; levelIncrement is added to each interior node on top of its
// children's sum to pay for its expansion.
func BuildCongestionTree(p crypto.Provider, depth int, leaf func(i int) *wire.TxOut, levelIncrement int64) (*CongestionTree, error) {
	if depth < 0 || depth > MaxTreeDepth {
		return nil, fmt.Errorf("tree: depth %d out of range [0,%d]", depth, MaxTreeDepth)
	}
	if leaf == nil {
		return nil, fmt.Errorf("tree: nil leaf function")
	}
	if levelIncrement < 0 || levelIncrement > btcutil.MaxSatoshi {
		return nil, txerr(TX_ERR_VALUE_RANGE, fmt.Sprintf("tree: level increment %d", levelIncrement))
	}
	if p == nil {
		p = crypto.StdProvider{}
	}

	layers := make([][]*wire.TxOut, depth+1)
	templates := make([][]Template, depth)

	bottom := make([]*wire.TxOut, 1<<depth)
	for i := range bottom {
		out := leaf(i)
		if out == nil {
			return nil, fmt.Errorf("tree: leaf %d is nil", i)
		}
		if out.Value < 0 || out.Value > btcutil.MaxSatoshi {
			return nil, txerr(TX_ERR_VALUE_RANGE, fmt.Sprintf("tree: leaf %d value %d", i, out.Value))
		}
		bottom[i] = wire.NewTxOut(out.Value, append([]byte(nil), out.PkScript...))
	}
	layers[depth] = bottom

	for level := depth - 1; level >= 0; level-- {
		children := layers[level+1]
		nodes := make([]*wire.TxOut, len(children)/2)
		tmpls := make([]Template, len(nodes))
		for j := range nodes {
			left, right := children[2*j], children[2*j+1]
			value := left.Value + right.Value + levelIncrement
			if value > btcutil.MaxSatoshi {
				return nil, txerr(TX_ERR_VALUE_RANGE, fmt.Sprintf("tree: node %d/%d value overflow", level, j))
			}
			t := NewTemplate([]*wire.TxOut{left, right}, 1)
			h, err := t.Hash(p, 0)
			if err != nil {
				return nil, err
			}
			nodes[j] = wire.NewTxOut(value, CommitmentScript(h))
			tmpls[j] = t
		}
		layers[level] = nodes
		templates[level] = tmpls
	}

	return &CongestionTree{layers: layers, templates: templates}, nil
}

func (t *CongestionTree) Root() *wire.TxOut { return t.layers[0][0] }

func (t *CongestionTree) Depth() int { return len(t.layers) - 1 }

func (t *CongestionTree) LeafCount() int { return len(t.layers[t.Depth()]) }

// Layer returns the outputs at level k, root first.
func (t *CongestionTree) Layer(k int) []*wire.TxOut {
	if k < 0 || k >= len(t.layers) {
		return nil
	}
	return t.layers[k]
}

// ExpansionTx spends node (level, index), held at parent, into its two
// children.
func (t *CongestionTree) ExpansionTx(level, index int, parent wire.OutPoint) (*wire.MsgTx, error) {
	if level < 0 || level >= t.Depth() {
		return nil, fmt.Errorf("tree: level %d has no expansion (depth %d)", level, t.Depth())
	}
	if index < 0 || index >= len(t.layers[level]) {
		return nil, fmt.Errorf("tree: index %d out of range at level %d", index, level)
	}
	tx := t.templates[level][index].Tx()
	tx.TxIn[0].PreviousOutPoint = parent
	return tx, nil
}

// Expand returns every expansion transaction with the root held at funding,
// level by level so that each parent precedes its children.
func (t *CongestionTree) Expand(funding wire.OutPoint) ([]*wire.MsgTx, error) {
	txs := make([]*wire.MsgTx, 0, (1<<t.Depth())-1)
	prev := []wire.OutPoint{funding}
	for level := 0; level < t.Depth(); level++ {
		next := make([]wire.OutPoint, 0, 2*len(prev))
		for index, op := range prev {
			tx, err := t.ExpansionTx(level, index, op)
			if err != nil {
				return nil, err
			}
			txs = append(txs, tx)
			h := tx.TxHash()
			next = append(next, wire.OutPoint{Hash: h, Index: 0}, wire.OutPoint{Hash: h, Index: 1})
		}
		prev = next
	}
	return txs, nil
}
