package consensus

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// OP_CHECKTEMPLATEVERIFY redefines OP_NOP4.
const OP_CHECKTEMPLATEVERIFY = txscript.OP_NOP4

const (
	MaxScriptSize        = txscript.MaxScriptSize
	MaxScriptElementSize = txscript.MaxScriptElementSize
	MaxStackSize         = txscript.MaxStackSize
)

type sigVersion int

const (
	sigVersionBase sigVersion = iota
	sigVersionWitnessV0
	sigVersionTapscript
)

// engine is a bounded script interpreter. It executes pushes, the upgradable
// NOPs, OP_CHECKTEMPLATEVERIFY and a handful of stack, equality and hashing
// opcodes; anything else fails with SCRIPT_ERR_BAD_OPCODE.
type engine struct {
	tc         *TxContext
	inputIndex uint32
	flags      ScriptFlags
	sigVersion sigVersion
	stack      [][]byte
}

func newEngine(tc *TxContext, inputIndex uint32, flags ScriptFlags, sv sigVersion, stack [][]byte) *engine {
	return &engine{
		tc:         tc,
		inputIndex: inputIndex,
		flags:      flags,
		sigVersion: sv,
		stack:      stack,
	}
}

func (vm *engine) upgradableNop(name string) error {
	if vm.flags.Has(ScriptDiscourageUpgradableNops) {
		return txerr(SCRIPT_ERR_DISCOURAGE_UPGRADABLE_NOPS, name)
	}
	return nil
}

func (vm *engine) push(b []byte) error {
	if len(b) > MaxScriptElementSize {
		return txerr(SCRIPT_ERR_PUSH_SIZE, fmt.Sprintf("push of %d bytes", len(b)))
	}
	vm.stack = append(vm.stack, b)
	return nil
}

func (vm *engine) pop() ([]byte, error) {
	if len(vm.stack) == 0 {
		return nil, txerr(SCRIPT_ERR_INVALID_STACK_OPERATION, "pop from empty stack")
	}
	top := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return top, nil
}

func (vm *engine) execute(script []byte) error {
	if vm.sigVersion != sigVersionTapscript && len(script) > MaxScriptSize {
		return txerr(SCRIPT_ERR_SCRIPT_SIZE, fmt.Sprintf("script of %d bytes", len(script)))
	}
	tok := txscript.MakeScriptTokenizer(0, script)
	for tok.Next() {
		if err := vm.step(tok.Opcode(), tok.Data()); err != nil {
			return err
		}
		if len(vm.stack) > MaxStackSize {
			return txerr(SCRIPT_ERR_STACK_SIZE, fmt.Sprintf("stack holds %d items", len(vm.stack)))
		}
	}
	if err := tok.Err(); err != nil {
		return txerr(SCRIPT_ERR_BAD_OPCODE, err.Error())
	}
	return nil
}

func (vm *engine) step(op byte, data []byte) error {
	switch {
	case op == txscript.OP_0:
		return vm.push(nil)
	case op >= txscript.OP_DATA_1 && op <= txscript.OP_PUSHDATA4:
		return vm.push(data)
	case op == txscript.OP_1NEGATE:
		return vm.push([]byte{0x81})
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return vm.push([]byte{op - txscript.OP_1 + 1})
	}

	switch op {
	case txscript.OP_NOP:
		return nil
	case txscript.OP_NOP1, txscript.OP_NOP5, txscript.OP_NOP6, txscript.OP_NOP7,
		txscript.OP_NOP8, txscript.OP_NOP9, txscript.OP_NOP10:
		return vm.upgradableNop(fmt.Sprintf("opcode 0x%02x", op))
	case OP_CHECKTEMPLATEVERIFY:
		return opcodeCheckTemplateVerify(vm)

	case txscript.OP_VERIFY:
		top, err := vm.pop()
		if err != nil {
			return err
		}
		if !castToBool(top) {
			return txerr(SCRIPT_ERR_VERIFY, "OP_VERIFY on false")
		}
		return nil
	case txscript.OP_RETURN:
		return txerr(SCRIPT_ERR_OP_RETURN, "")
	case txscript.OP_DROP:
		_, err := vm.pop()
		return err
	case txscript.OP_DUP:
		if len(vm.stack) == 0 {
			return txerr(SCRIPT_ERR_INVALID_STACK_OPERATION, "OP_DUP on empty stack")
		}
		top := vm.stack[len(vm.stack)-1]
		vm.stack = append(vm.stack, append([]byte(nil), top...))
		return nil
	case txscript.OP_EQUAL, txscript.OP_EQUALVERIFY:
		if len(vm.stack) < 2 {
			return txerr(SCRIPT_ERR_INVALID_STACK_OPERATION, "equality needs two items")
		}
		a, _ := vm.pop()
		b, _ := vm.pop()
		eq := bytes.Equal(a, b)
		if op == txscript.OP_EQUALVERIFY {
			if !eq {
				return txerr(SCRIPT_ERR_EQUALVERIFY, "")
			}
			return nil
		}
		if eq {
			return vm.push([]byte{1})
		}
		return vm.push(nil)
	case txscript.OP_SHA256:
		top, err := vm.pop()
		if err != nil {
			return err
		}
		h := vm.tc.Provider.SHA256(top)
		return vm.push(h[:])
	case txscript.OP_HASH160:
		top, err := vm.pop()
		if err != nil {
			return err
		}
		h := vm.tc.Provider.Hash160(top)
		return vm.push(h[:])
	}
	return txerr(SCRIPT_ERR_BAD_OPCODE, fmt.Sprintf("opcode 0x%02x", op))
}

// castToBool treats any non-zero byte string as true, except negative zero.
func castToBool(b []byte) bool {
	for i := range b {
		if b[i] != 0 {
			if i == len(b)-1 && b[i] == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}
