package consensus

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// VerifyInputScript checks the unlocking data of input inputIndex against the
// output it spends, under flags. The spent output comes from tc.
func VerifyInputScript(tc *TxContext, inputIndex uint32, flags ScriptFlags) error {
	if tc == nil || tc.Tx == nil {
		return txerr(TX_ERR_PARSE, "nil tx context")
	}
	if uint64(inputIndex) >= uint64(len(tc.Tx.TxIn)) {
		return txerr(TX_ERR_PARSE, fmt.Sprintf("input_index %d out of bounds", inputIndex))
	}
	prev := tc.PrevOut(inputIndex)
	if prev == nil {
		return txerr(TX_ERR_MISSING_UTXO, "spent output unknown")
	}
	in := tc.Tx.TxIn[inputIndex]
	scriptSig := in.SignatureScript
	pkScript := prev.PkScript

	if !txscript.IsPushOnlyScript(scriptSig) {
		return txerr(SCRIPT_ERR_SIG_PUSHONLY, "")
	}

	vm := newEngine(tc, inputIndex, flags, sigVersionBase, nil)
	if err := vm.execute(scriptSig); err != nil {
		return err
	}
	var stackCopy [][]byte
	if flags.Has(ScriptVerifyP2SH) {
		stackCopy = append(stackCopy, vm.stack...)
	}
	if err := vm.execute(pkScript); err != nil {
		return err
	}
	if len(vm.stack) == 0 || !castToBool(vm.stack[len(vm.stack)-1]) {
		return txerr(SCRIPT_ERR_EVAL_FALSE, "")
	}

	hadWitness := false
	if flags.Has(ScriptVerifyWitness) && txscript.IsWitnessProgram(pkScript) {
		hadWitness = true
		if len(scriptSig) != 0 {
			return txerr(SCRIPT_ERR_WITNESS_MALLEATED, "")
		}
		if err := verifyWitnessProgram(tc, inputIndex, flags, pkScript, false); err != nil {
			return err
		}
		vm.stack = vm.stack[:1]
	}

	if flags.Has(ScriptVerifyP2SH) && txscript.IsPayToScriptHash(pkScript) {
		// stackCopy is non-empty here: an empty one would have failed the
		// hash check above.
		redeem := stackCopy[len(stackCopy)-1]
		vm = newEngine(tc, inputIndex, flags, sigVersionBase, stackCopy[:len(stackCopy)-1])
		if err := vm.execute(redeem); err != nil {
			return err
		}
		if len(vm.stack) == 0 || !castToBool(vm.stack[len(vm.stack)-1]) {
			return txerr(SCRIPT_ERR_EVAL_FALSE, "")
		}
		if flags.Has(ScriptVerifyWitness) && txscript.IsWitnessProgram(redeem) {
			hadWitness = true
			if !isSinglePush(scriptSig, redeem) {
				return txerr(SCRIPT_ERR_WITNESS_MALLEATED_P2SH, "")
			}
			if err := verifyWitnessProgram(tc, inputIndex, flags, redeem, true); err != nil {
				return err
			}
			vm.stack = vm.stack[:1]
		}
	}

	if flags.Has(ScriptVerifyCleanStack) && len(vm.stack) != 1 {
		return txerr(SCRIPT_ERR_CLEANSTACK, "")
	}
	if flags.Has(ScriptVerifyWitness) && !hadWitness && len(in.Witness) > 0 {
		return txerr(SCRIPT_ERR_WITNESS_UNEXPECTED, "")
	}
	return nil
}

func isSinglePush(scriptSig, data []byte) bool {
	want, err := txscript.NewScriptBuilder().AddData(data).Script()
	if err != nil {
		return false
	}
	return bytes.Equal(scriptSig, want)
}

func verifyWitnessProgram(tc *TxContext, inputIndex uint32, flags ScriptFlags, programScript []byte, viaP2SH bool) error {
	version, program, err := txscript.ExtractWitnessProgramInfo(programScript)
	if err != nil {
		return txerr(SCRIPT_ERR_WITNESS_PROGRAM_WRONG_LENGTH, err.Error())
	}
	witness := tc.Tx.TxIn[inputIndex].Witness

	switch {
	case version == 0:
		switch len(program) {
		case 32:
			if len(witness) == 0 {
				return txerr(SCRIPT_ERR_WITNESS_PROGRAM_WITNESS_EMPTY, "")
			}
			script := witness[len(witness)-1]
			h := tc.Provider.SHA256(script)
			if !bytes.Equal(h[:], program) {
				return txerr(SCRIPT_ERR_WITNESS_PROGRAM_MISMATCH, "")
			}
			return executeWitnessScript(tc, inputIndex, flags, sigVersionWitnessV0, script, witness[:len(witness)-1])
		case 20:
			return txerr(SCRIPT_ERR_BAD_OPCODE, "pay-to-witness-pubkey-hash is not supported")
		default:
			return txerr(SCRIPT_ERR_WITNESS_PROGRAM_WRONG_LENGTH, fmt.Sprintf("v0 program of %d bytes", len(program)))
		}

	case version == 1 && len(program) == 32 && !viaP2SH && flags.Has(ScriptVerifyTaproot):
		return verifyTaproot(tc, inputIndex, flags, program, witness)
	}

	if flags.Has(ScriptDiscourageUpgradableWitnessProgram) {
		return txerr(SCRIPT_ERR_DISCOURAGE_UPGRADABLE_WITNESS, fmt.Sprintf("witness version %d", version))
	}
	return nil
}

func verifyTaproot(tc *TxContext, inputIndex uint32, flags ScriptFlags, program []byte, witness [][]byte) error {
	if len(witness) == 0 {
		return txerr(SCRIPT_ERR_WITNESS_PROGRAM_WITNESS_EMPTY, "")
	}
	stack := witness
	if len(stack) >= 2 {
		last := stack[len(stack)-1]
		if len(last) > 0 && last[0] == txscript.TaprootAnnexTag {
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) == 1 {
		sigHashes, err := tc.taprootSigHashes()
		if err != nil {
			return err
		}
		err = txscript.VerifyTaprootKeySpend(program, stack[0], tc.Tx, int(inputIndex), tc.fetcher, sigHashes, tc.sigCache)
		if err != nil {
			return txerr(SCRIPT_ERR_SCHNORR_SIG, err.Error())
		}
		return nil
	}

	control := stack[len(stack)-1]
	script := stack[len(stack)-2]
	cb, err := txscript.ParseControlBlock(control)
	if err != nil {
		return txerr(SCRIPT_ERR_TAPROOT_CONTROL_BLOCK, err.Error())
	}
	if err := txscript.VerifyTaprootLeafCommitment(cb, program, script); err != nil {
		return txerr(SCRIPT_ERR_WITNESS_PROGRAM_MISMATCH, err.Error())
	}
	if cb.LeafVersion != txscript.BaseLeafVersion {
		if flags.Has(ScriptDiscourageUpgradableTaprootVersion) {
			return txerr(SCRIPT_ERR_DISCOURAGE_UPGRADABLE_TAPROOT_LEAF, fmt.Sprintf("leaf version 0x%02x", byte(cb.LeafVersion)))
		}
		return nil
	}
	return executeWitnessScript(tc, inputIndex, flags, sigVersionTapscript, script, stack[:len(stack)-2])
}

func executeWitnessScript(tc *TxContext, inputIndex uint32, flags ScriptFlags, sv sigVersion, script []byte, initial [][]byte) error {
	stack := make([][]byte, 0, len(initial))
	for _, item := range initial {
		if len(item) > MaxScriptElementSize {
			return txerr(SCRIPT_ERR_PUSH_SIZE, fmt.Sprintf("witness item of %d bytes", len(item)))
		}
		stack = append(stack, item)
	}
	vm := newEngine(tc, inputIndex, flags, sv, stack)
	if err := vm.execute(script); err != nil {
		return err
	}
	// Witness scripts carry an implicit clean stack rule.
	if len(vm.stack) != 1 {
		return txerr(SCRIPT_ERR_CLEANSTACK, fmt.Sprintf("%d items left", len(vm.stack)))
	}
	if !castToBool(vm.stack[0]) {
		return txerr(SCRIPT_ERR_EVAL_FALSE, "")
	}
	return nil
}
