package consensus

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"rubin.dev/ctv/crypto"
)

var testProvider crypto.Provider = crypto.StdProvider{}

var opTrue = []byte{txscript.OP_TRUE}

func mustTxErrCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err, "expected error code %s", code)
	got, ok := ErrorCodeOf(err)
	require.True(t, ok, "expected TxError with code %s, got %T: %v", code, err, err)
	require.Equal(t, code, got, "%v", err)
}

func testOutPoint(tag byte, index uint32) wire.OutPoint {
	var h chainhash.Hash
	h[0] = tag
	h[31] = 0xaa
	return wire.OutPoint{Hash: h, Index: index}
}

// spendTx spends prevs into outs with version 2, final sequences and no
// scriptSigs.
func spendTx(prevs []wire.OutPoint, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	for i := range prevs {
		tx.AddTxIn(wire.NewTxIn(&prevs[i], nil, nil))
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	return tx
}

// commitTo returns the bare commitment to tx spent at index.
func commitTo(t *testing.T, tx *wire.MsgTx, index uint32) []byte {
	t.Helper()
	h, err := TemplateHash(testProvider, tx, index)
	require.NoError(t, err)
	return CommitmentScript(h)
}

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func wrongSizeScript(n int) []byte {
	s, err := txscript.NewScriptBuilder().AddData(fill(0x01, n)).AddOp(OP_CHECKTEMPLATEVERIFY).Script()
	if err != nil {
		panic(err)
	}
	return s
}
