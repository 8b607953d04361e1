package consensus

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) (*btcec.PrivateKey, *btcec.PublicKey) {
	return btcec.PrivKeyFromBytes(fill(seed, 32))
}

func verify(t *testing.T, tx *wire.MsgTx, prevOuts []*wire.TxOut, idx uint32, flags ScriptFlags) error {
	t.Helper()
	return VerifyInputScript(NewTxContext(testProvider, tx, prevOuts), idx, flags)
}

func TestVerifyInputScript_Bare(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))
	prev := wire.NewTxOut(1000, commitTo(t, tx, 0))

	require.NoError(t, verify(t, tx, []*wire.TxOut{prev}, 0, StandardScriptFlags), "matching spend")

	bad := tx.Copy()
	bad.TxOut[0].Value = 899
	mustTxErrCode(t, verify(t, bad, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_TEMPLATE_MISMATCH)
	mustTxErrCode(t, verify(t, bad, []*wire.TxOut{prev}, 0, StandardScriptFlags), SCRIPT_ERR_TEMPLATE_MISMATCH)

	// Before activation the mismatch is a discouraged NOP.
	pre := MandatoryScriptFlags &^ ScriptVerifyCheckTemplateVerify
	require.NoError(t, verify(t, bad, []*wire.TxOut{prev}, 0, pre), "pre-activation consensus")
	mustTxErrCode(t, verify(t, bad, []*wire.TxOut{prev}, 0, StandardScriptFlags&^ScriptVerifyCheckTemplateVerify), SCRIPT_ERR_DISCOURAGE_UPGRADABLE_NOPS)
}

func TestVerifyInputScript_WrongSizeArgument(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))
	for _, n := range []int{1, 31, 33} {
		prev := wire.NewTxOut(1000, wrongSizeScript(n))
		require.NoError(t, verify(t, tx, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), "size %d under consensus", n)
		mustTxErrCode(t, verify(t, tx, []*wire.TxOut{prev}, 0, StandardScriptFlags), SCRIPT_ERR_DISCOURAGE_UPGRADABLE_NOPS)
	}
}

func TestVerifyInputScript_SpendPosition(t *testing.T) {
	prevs := []wire.OutPoint{testOutPoint(1, 0), testOutPoint(2, 0), testOutPoint(3, 0)}
	tx := spendTx(prevs, wire.NewTxOut(900, opTrue))
	atTwo := wire.NewTxOut(1000, commitTo(t, tx, 2))
	prevOuts := []*wire.TxOut{wire.NewTxOut(1, opTrue), wire.NewTxOut(1, opTrue), atTwo}

	require.NoError(t, verify(t, tx, prevOuts, 2, StandardScriptFlags), "spend at committed position")

	// The same commitment spent from position 0 fails.
	moved := []*wire.TxOut{atTwo, wire.NewTxOut(1, opTrue), wire.NewTxOut(1, opTrue)}
	mustTxErrCode(t, verify(t, tx, moved, 0, MandatoryScriptFlags), SCRIPT_ERR_TEMPLATE_MISMATCH)
}

func TestVerifyInputScript_CommittedScriptSigs(t *testing.T) {
	prevs := []wire.OutPoint{testOutPoint(1, 0), testOutPoint(2, 0)}
	tx := spendTx(prevs, wire.NewTxOut(900, opTrue))
	tx.TxIn[1].SignatureScript = []byte{txscript.OP_1}
	prevOuts := []*wire.TxOut{wire.NewTxOut(1000, commitTo(t, tx, 0)), wire.NewTxOut(1, opTrue)}

	require.NoError(t, verify(t, tx, prevOuts, 0, MandatoryScriptFlags), "spend with committed scriptSig")

	changed := tx.Copy()
	changed.TxIn[1].SignatureScript = []byte{txscript.OP_2}
	mustTxErrCode(t, verify(t, changed, prevOuts, 0, MandatoryScriptFlags), SCRIPT_ERR_TEMPLATE_MISMATCH)
}

func TestVerifyInputScript_P2WSH(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))
	h, _ := TemplateHash(testProvider, tx, 0)
	c, err := Embed(testProvider, EmbedP2WSH, h, nil)
	require.NoError(t, err)
	tx.TxIn[0].Witness = c.SpendWitness()
	prev := wire.NewTxOut(1000, c.PkScript)

	require.NoError(t, verify(t, tx, []*wire.TxOut{prev}, 0, StandardScriptFlags), "p2wsh spend")

	wrong := tx.Copy()
	wrong.TxIn[0].Witness = wire.TxWitness{wrongSizeScript(32)}
	mustTxErrCode(t, verify(t, wrong, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_WITNESS_PROGRAM_MISMATCH)

	empty := tx.Copy()
	empty.TxIn[0].Witness = nil
	mustTxErrCode(t, verify(t, empty, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_WITNESS_PROGRAM_WITNESS_EMPTY)

	extra := tx.Copy()
	extra.TxIn[0].Witness = wire.TxWitness{{0x01}, c.Script}
	mustTxErrCode(t, verify(t, extra, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_CLEANSTACK)

	malleated := tx.Copy()
	malleated.TxIn[0].SignatureScript = []byte{txscript.OP_1}
	mustTxErrCode(t, verify(t, malleated, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_WITNESS_MALLEATED)
}

func TestVerifyInputScript_TaprootScriptPath(t *testing.T) {
	_, internal := testKey(0x11)
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))
	h, _ := TemplateHash(testProvider, tx, 0)
	c, err := Embed(testProvider, EmbedTaproot, h, internal)
	require.NoError(t, err)
	tx.TxIn[0].Witness = c.SpendWitness()
	prev := wire.NewTxOut(1000, c.PkScript)

	require.NoError(t, verify(t, tx, []*wire.TxOut{prev}, 0, StandardScriptFlags), "taproot script path")

	annexed := tx.Copy()
	annexed.TxIn[0].Witness = append(c.SpendWitness(), []byte{txscript.TaprootAnnexTag, 0x01})
	require.NoError(t, verify(t, annexed, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), "taproot script path with annex")

	badCB := tx.Copy()
	badCB.TxIn[0].Witness = wire.TxWitness{c.Script, {0xc0}}
	mustTxErrCode(t, verify(t, badCB, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_TAPROOT_CONTROL_BLOCK)

	otherLeaf := tx.Copy()
	otherLeaf.TxIn[0].Witness = wire.TxWitness{wrongSizeScript(32), c.Taproot().ControlBlock}
	mustTxErrCode(t, verify(t, otherLeaf, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_WITNESS_PROGRAM_MISMATCH)

	mismatch := tx.Copy()
	mismatch.TxOut[0].Value = 1
	mustTxErrCode(t, verify(t, mismatch, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_TEMPLATE_MISMATCH)
}

func TestVerifyInputScript_TaprootKeyPath(t *testing.T) {
	priv, pub := testKey(0x22)
	outputKey := txscript.ComputeTaprootKeyNoScript(pub)
	pkScript, err := txscript.PayToTaprootScript(outputKey)
	require.NoError(t, err)
	prev := wire.NewTxOut(1000, pkScript)
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))

	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, prev.Value)
	sig, err := txscript.RawTxInTaprootSignature(tx, txscript.NewTxSigHashes(tx, fetcher), 0, prev.Value, pkScript, []byte{}, txscript.SigHashDefault, priv)
	require.NoError(t, err)
	tx.TxIn[0].Witness = wire.TxWitness{sig}

	require.NoError(t, verify(t, tx, []*wire.TxOut{prev}, 0, StandardScriptFlags), "key path")

	tampered := tx.Copy()
	tampered.TxOut[0].Value = 800
	mustTxErrCode(t, verify(t, tampered, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_SCHNORR_SIG)

	mustTxErrCode(t, verify(t, tx, nil, 0, MandatoryScriptFlags), TX_ERR_MISSING_UTXO)
}

func TestVerifyInputScript_P2SHIsUnsatisfiable(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))
	redeem := commitTo(t, tx, 0)
	scriptSig, err := txscript.NewScriptBuilder().AddData(redeem).Script()
	require.NoError(t, err)
	tx.TxIn[0].SignatureScript = scriptSig
	prev := wire.NewTxOut(1000, P2SHScript(testProvider, redeem))

	// Revealing the redeem script changes the committed scriptSig digest.
	mustTxErrCode(t, verify(t, tx, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), SCRIPT_ERR_TEMPLATE_MISMATCH)

	_, err = Embed(testProvider, EmbedP2SH, [32]byte{}, nil)
	require.ErrorIs(t, err, ErrUnsupportedEmbedding)
}

func TestVerifyInputScript_WitnessRules(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))
	tx.TxIn[0].Witness = wire.TxWitness{{0x01}}
	mustTxErrCode(t, verify(t, tx, []*wire.TxOut{wire.NewTxOut(1, opTrue)}, 0, MandatoryScriptFlags), SCRIPT_ERR_WITNESS_UNEXPECTED)

	// Unknown witness versions are anyone-can-spend but non-standard.
	v2 := append([]byte{txscript.OP_2, txscript.OP_DATA_32}, fill(7, 32)...)
	tx.TxIn[0].Witness = nil
	require.NoError(t, verify(t, tx, []*wire.TxOut{wire.NewTxOut(1, v2)}, 0, MandatoryScriptFlags), "unknown witness version")
	mustTxErrCode(t, verify(t, tx, []*wire.TxOut{wire.NewTxOut(1, v2)}, 0, StandardScriptFlags), SCRIPT_ERR_DISCOURAGE_UPGRADABLE_WITNESS)

	tx.TxIn[0].SignatureScript = []byte{txscript.OP_NOP}
	mustTxErrCode(t, verify(t, tx, []*wire.TxOut{wire.NewTxOut(1, opTrue)}, 0, MandatoryScriptFlags), SCRIPT_ERR_SIG_PUSHONLY)
}

func TestVerifyInputScript_CleanStackIsPolicy(t *testing.T) {
	tx := spendTx([]wire.OutPoint{testOutPoint(1, 0)}, wire.NewTxOut(900, opTrue))
	tx.TxIn[0].SignatureScript = []byte{txscript.OP_1}
	prev := wire.NewTxOut(1000, commitTo(t, tx, 0))

	require.NoError(t, verify(t, tx, []*wire.TxOut{prev}, 0, MandatoryScriptFlags), "consensus")
	mustTxErrCode(t, verify(t, tx, []*wire.TxOut{prev}, 0, StandardScriptFlags), SCRIPT_ERR_CLEANSTACK)
}
