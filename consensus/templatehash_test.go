package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestTemplateHash_PreimageLayout(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(1000, opTrue))

	seqs := sha256.Sum256([]byte{0xff, 0xff, 0xff, 0xff})
	outs := sha256.Sum256([]byte{0xe8, 0x03, 0, 0, 0, 0, 0, 0, 0x01, 0x51})

	preimage := make([]byte, 0, 84)
	preimage = binary.LittleEndian.AppendUint32(preimage, 2) // version
	preimage = binary.LittleEndian.AppendUint32(preimage, 0) // locktime
	preimage = binary.LittleEndian.AppendUint32(preimage, 1) // input count
	preimage = append(preimage, seqs[:]...)
	preimage = binary.LittleEndian.AppendUint32(preimage, 1) // output count
	preimage = append(preimage, outs[:]...)
	preimage = binary.LittleEndian.AppendUint32(preimage, 0) // input index
	want := sha256.Sum256(preimage)

	got, err := TemplateHash(testProvider, tx, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestTemplateHash_ScriptSigDigestIncludedWhenNonEmpty(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0), testOutPoint(2, 0)}, wire.NewTxOut(1000, opTrue))
	tx.TxIn[1].SignatureScript = []byte{0x01, 0x07}

	sigs := sha256.Sum256([]byte{0x00, 0x02, 0x01, 0x07})
	seqs := sha256.Sum256([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	outs := sha256.Sum256([]byte{0xe8, 0x03, 0, 0, 0, 0, 0, 0, 0x01, 0x51})

	preimage := binary.LittleEndian.AppendUint32(nil, 2)
	preimage = binary.LittleEndian.AppendUint32(preimage, 0)
	preimage = append(preimage, sigs[:]...)
	preimage = binary.LittleEndian.AppendUint32(preimage, 2)
	preimage = append(preimage, seqs[:]...)
	preimage = binary.LittleEndian.AppendUint32(preimage, 1)
	preimage = append(preimage, outs[:]...)
	preimage = binary.LittleEndian.AppendUint32(preimage, 1)
	want := sha256.Sum256(preimage)

	got, err := TemplateHash(testProvider, tx, 1)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestTemplateHash_IgnoresWitnessAndPrevouts(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(1000, opTrue))
	base, err := TemplateHash(testProvider, tx, 0)
	require.NoError(t, err)

	mutated := tx.Copy()
	mutated.TxIn[0].Witness = wire.TxWitness{fill(0x42, 64), fill(0x43, 33)}
	mutated.TxIn[0].PreviousOutPoint = testOutPoint(9, 7)
	got, err := TemplateHash(testProvider, mutated, 0)
	require.NoError(t, err)
	require.Equal(t, base, got, "witness or prevout changed the template hash")
}

func TestTemplateHash_CommittedFieldsChangeHash(t *testing.T) {
	base := spendTx([]wire.OutPoint{testOutPoint(1, 0), testOutPoint(2, 0)},
		wire.NewTxOut(1000, opTrue), wire.NewTxOut(2000, opTrue))
	want, err := TemplateHash(testProvider, base, 0)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(tx *wire.MsgTx)
		index  uint32
	}{
		{"version", func(tx *wire.MsgTx) { tx.Version = 1 }, 0},
		{"locktime", func(tx *wire.MsgTx) { tx.LockTime = 1 }, 0},
		{"sequence", func(tx *wire.MsgTx) { tx.TxIn[1].Sequence = 0 }, 0},
		{"scriptsig", func(tx *wire.MsgTx) { tx.TxIn[1].SignatureScript = []byte{txscript.OP_1} }, 0},
		{"output value", func(tx *wire.MsgTx) { tx.TxOut[0].Value++ }, 0},
		{"output order", func(tx *wire.MsgTx) { tx.TxOut[0], tx.TxOut[1] = tx.TxOut[1], tx.TxOut[0] }, 0},
		{"extra output", func(tx *wire.MsgTx) { tx.AddTxOut(wire.NewTxOut(0, opTrue)) }, 0},
		{"extra input", func(tx *wire.MsgTx) { tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil)) }, 0},
		{"input index", func(tx *wire.MsgTx) {}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := base.Copy()
			tc.mutate(tx)
			got, err := TemplateHash(testProvider, tx, tc.index)
			require.NoError(t, err)
			require.NotEqual(t, want, got)
		})
	}
}

func TestTemplateHash_IndexOutOfRange(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(1000, opTrue))
	_, err := TemplateHash(testProvider, tx, 1)
	mustTxErrCode(t, err, TX_ERR_PARSE)

	_, err = TemplateHash(testProvider, nil, 0)
	mustTxErrCode(t, err, TX_ERR_PARSE)
}

func TestTemplateHashCache_OrderIndependent(t *testing.T) {
	prevs := []wire.OutPoint{testOutPoint(1, 0), testOutPoint(2, 0), testOutPoint(3, 0)}
	tx := spendTx(prevs, wire.NewTxOut(1000, opTrue))

	want := make([][32]byte, len(prevs))
	for i := range prevs {
		h, err := TemplateHash(testProvider, tx, uint32(i))
		require.NoError(t, err)
		want[i] = h
	}

	for _, order := range [][]uint32{{0, 1, 2}, {2, 0, 1}, {1, 1, 2, 0}} {
		c := NewTemplateHashCache(testProvider, tx)
		for _, idx := range order {
			got, err := c.Hash(idx)
			require.NoError(t, err)
			require.Equal(t, want[idx], got, "order %v idx %d", order, idx)
		}
		require.Equal(t, 3, c.Len())
	}

	c := NewTemplateHashCache(testProvider, tx)
	_, err := c.Hash(3)
	mustTxErrCode(t, err, TX_ERR_PARSE)
	require.Zero(t, c.Len(), "failed lookups must not be cached")
}

func TestNewTemplate_MatchesSpend(t *testing.T) {
	outs := []*wire.TxOut{wire.NewTxOut(700, opTrue), wire.NewTxOut(300, opTrue)}
	tmpl := NewTemplate(outs, 2)

	h, err := tmpl.Hash(testProvider, 1)
	require.NoError(t, err)
	spend := spendTx([]wire.OutPoint{testOutPoint(5, 1), testOutPoint(6, 0)}, outs...)
	want, err := TemplateHash(testProvider, spend, 1)
	require.NoError(t, err)
	require.Equal(t, want, h, "template and concrete spend disagree")
	got := tmpl.Tx()
	require.Equal(t, DefaultTemplateVersion, got.Version)
	require.Equal(t, uint32(DefaultTemplateSequence), got.TxIn[0].Sequence)
}
