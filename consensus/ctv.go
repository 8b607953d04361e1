package consensus

import "bytes"

// CTVOutcome is the result of evaluating OP_CHECKTEMPLATEVERIFY against a
// stack. It is tagged rather than boolean because policy and consensus treat
// the outcomes differently.
type CTVOutcome int

const (
	CTVStackTooShort CTVOutcome = iota
	CTVUpgradableNOP
	CTVMatch
	CTVMismatch
)

func (o CTVOutcome) String() string {
	switch o {
	case CTVStackTooShort:
		return "stack_too_short"
	case CTVUpgradableNOP:
		return "upgradable_nop"
	case CTVMatch:
		return "match"
	case CTVMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// EvalCheckTemplateVerify inspects the top of stack (last element) and
// compares 32-byte values with the template hash of the spending
// transaction at inputIndex. The stack is never modified.
func EvalCheckTemplateVerify(stack [][]byte, tc *TxContext, inputIndex uint32) (CTVOutcome, error) {
	if len(stack) == 0 {
		return CTVStackTooShort, nil
	}
	top := stack[len(stack)-1]
	if len(top) != 32 {
		return CTVUpgradableNOP, nil
	}
	want, err := tc.TemplateHash(inputIndex)
	if err != nil {
		return CTVMismatch, err
	}
	if bytes.Equal(top, want[:]) {
		return CTVMatch, nil
	}
	return CTVMismatch, nil
}

func opcodeCheckTemplateVerify(vm *engine) error {
	if !vm.flags.Has(ScriptVerifyCheckTemplateVerify) {
		return vm.upgradableNop("OP_NOP4")
	}
	outcome, err := EvalCheckTemplateVerify(vm.stack, vm.tc, vm.inputIndex)
	if err != nil {
		return err
	}
	switch outcome {
	case CTVStackTooShort:
		return txerr(SCRIPT_ERR_INVALID_STACK_OPERATION, "OP_CHECKTEMPLATEVERIFY on empty stack")
	case CTVUpgradableNOP:
		return vm.upgradableNop("OP_CHECKTEMPLATEVERIFY with non-32-byte argument")
	case CTVMismatch:
		return txerr(SCRIPT_ERR_TEMPLATE_MISMATCH, "template hash mismatch")
	default:
		return nil
	}
}
