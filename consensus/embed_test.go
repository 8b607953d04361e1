package consensus

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

func TestCommitmentScript_RoundTrip(t *testing.T) {
	var h [32]byte
	for i := range h {
		h[i] = byte(i)
	}
	s := CommitmentScript(h)
	require.Len(t, s, CommitmentScriptLen)
	require.Equal(t, byte(txscript.OP_DATA_32), s[0])
	require.Equal(t, byte(0xb3), s[33])

	got, ok := ParseCommitmentScript(s)
	require.True(t, ok)
	require.Equal(t, h, got)

	_, ok = ParseCommitmentScript(s[:33])
	require.False(t, ok, "truncated script parsed")
	bad := append([]byte(nil), s...)
	bad[33] = txscript.OP_NOP
	_, ok = ParseCommitmentScript(bad)
	require.False(t, ok, "script without the opcode parsed")
}

func TestEmbed(t *testing.T) {
	var h [32]byte
	h[0] = 1
	_, internal := testKey(0x33)

	bare, err := Embed(testProvider, EmbedBare, h, nil)
	require.NoError(t, err)
	require.Len(t, bare.PkScript, CommitmentScriptLen)
	require.Nil(t, bare.SpendWitness())

	wsh, err := Embed(testProvider, EmbedP2WSH, h, nil)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToWitnessScriptHash(wsh.PkScript), "p2wsh script %x", wsh.PkScript)

	tr, err := Embed(testProvider, EmbedTaproot, h, internal)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToTaproot(tr.PkScript), "taproot script %x", tr.PkScript)
	cb, err := txscript.ParseControlBlock(tr.Taproot().ControlBlock)
	require.NoError(t, err)
	require.NoError(t, txscript.VerifyTaprootLeafCommitment(cb, tr.PkScript[2:], tr.Script))

	_, err = Embed(testProvider, EmbedTaproot, h, nil)
	require.Error(t, err, "taproot without internal key must fail")
	_, err = Embed(testProvider, EmbedP2SH, h, nil)
	require.ErrorIs(t, err, ErrUnsupportedEmbedding)
	mustTxErrCode(t, err, TX_ERR_COMMITMENT_EMBEDDING)
}

func TestParseEmbedding(t *testing.T) {
	for _, e := range []Embedding{EmbedBare, EmbedP2WSH, EmbedTaproot, EmbedP2SH} {
		got, err := ParseEmbedding(e.String())
		require.NoError(t, err)
		require.Equal(t, e, got)
	}
	_, err := ParseEmbedding("p2pkh")
	require.Error(t, err)
}
