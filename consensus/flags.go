package consensus

import "strings"

// ScriptFlags select which script rules are enforced for one verification
// pass.
type ScriptFlags uint32

const (
	ScriptVerifyP2SH ScriptFlags = 1 << iota
	ScriptVerifyWitness
	ScriptVerifyTaproot
	ScriptVerifyCheckTemplateVerify

	// Policy-only flags. Failing one of these makes a transaction
	// non-standard but never invalid.
	ScriptDiscourageUpgradableNops
	ScriptVerifyCleanStack
	ScriptDiscourageUpgradableWitnessProgram
	ScriptDiscourageUpgradableTaprootVersion
)

const (
	MandatoryScriptFlags = ScriptVerifyP2SH |
		ScriptVerifyWitness |
		ScriptVerifyTaproot |
		ScriptVerifyCheckTemplateVerify

	StandardScriptFlags = MandatoryScriptFlags |
		ScriptDiscourageUpgradableNops |
		ScriptVerifyCleanStack |
		ScriptDiscourageUpgradableWitnessProgram |
		ScriptDiscourageUpgradableTaprootVersion
)

var scriptFlagNames = []struct {
	flag ScriptFlags
	name string
}{
	{ScriptVerifyP2SH, "P2SH"},
	{ScriptVerifyWitness, "WITNESS"},
	{ScriptVerifyTaproot, "TAPROOT"},
	{ScriptVerifyCheckTemplateVerify, "CHECKTEMPLATEVERIFY"},
	{ScriptDiscourageUpgradableNops, "DISCOURAGE_UPGRADABLE_NOPS"},
	{ScriptVerifyCleanStack, "CLEANSTACK"},
	{ScriptDiscourageUpgradableWitnessProgram, "DISCOURAGE_UPGRADABLE_WITNESS_PROGRAM"},
	{ScriptDiscourageUpgradableTaprootVersion, "DISCOURAGE_UPGRADABLE_TAPROOT_VERSION"},
}

func (f ScriptFlags) Has(flag ScriptFlags) bool {
	return f&flag == flag
}

func (f ScriptFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	parts := make([]string, 0, len(scriptFlagNames))
	for _, n := range scriptFlagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// ScriptFlagsAtHeight returns the consensus flags for a block at height.
// Before ctvActivationHeight OP_CHECKTEMPLATEVERIFY is still OP_NOP4.
func ScriptFlagsAtHeight(height uint32, ctvActivationHeight uint32) ScriptFlags {
	flags := MandatoryScriptFlags
	if height < ctvActivationHeight {
		flags &^= ScriptVerifyCheckTemplateVerify
	}
	return flags
}

// StandardFlagsAtHeight is the relay-policy counterpart of ScriptFlagsAtHeight.
func StandardFlagsAtHeight(height uint32, ctvActivationHeight uint32) ScriptFlags {
	flags := StandardScriptFlags
	if height < ctvActivationHeight {
		flags &^= ScriptVerifyCheckTemplateVerify
	}
	return flags
}
