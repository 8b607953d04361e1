package consensus

import "fmt"

// Classification is the three-way verdict relay and block acceptance share.
type Classification int

const (
	Accepted Classification = iota
	Discouraged
	Rejected
)

func (c Classification) String() string {
	switch c {
	case Accepted:
		return "accepted"
	case Discouraged:
		return "discouraged"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// RelayAllowed reports whether the relay pool may admit the transaction.
func (c Classification) RelayAllowed() bool { return c == Accepted }

// BlockAllowed reports whether a block may include the transaction.
func (c Classification) BlockAllowed() bool { return c != Rejected }

func ClassifyOutcome(o CTVOutcome) Classification {
	switch o {
	case CTVMatch:
		return Accepted
	case CTVUpgradableNOP:
		return Discouraged
	default:
		return Rejected
	}
}

// ClassifyScriptError maps a single script failure to a classification.
// Only the DISCOURAGE_* codes are policy-only in every context; the two-pass
// GateTransaction is authoritative for everything else.
func ClassifyScriptError(err error) Classification {
	if err == nil {
		return Accepted
	}
	code, ok := ErrorCodeOf(err)
	if !ok {
		return Rejected
	}
	switch code {
	case SCRIPT_ERR_DISCOURAGE_UPGRADABLE_NOPS,
		SCRIPT_ERR_DISCOURAGE_UPGRADABLE_WITNESS,
		SCRIPT_ERR_DISCOURAGE_UPGRADABLE_TAPROOT_LEAF:
		return Discouraged
	default:
		return Rejected
	}
}

// Verdict is the result of gating one transaction. Err is the failure that
// decided the classification and InputIndex the input that produced it.
type Verdict struct {
	Class      Classification
	InputIndex int
	Err        error
}

func (v Verdict) reason() (string, bool) {
	code, ok := ErrorCodeOf(v.Err)
	if !ok {
		if v.Err == nil {
			return "", false
		}
		return v.Err.Error(), false
	}
	return code.Reason(), code.IsScript()
}

// RelayReason is the reject string a relay pool reports, or "" when accepted.
func (v Verdict) RelayReason() string {
	reason, isScript := v.reason()
	switch v.Class {
	case Discouraged:
		return fmt.Sprintf("non-mandatory-script-verify-flag (%s)", reason)
	case Rejected:
		if !isScript {
			return reason
		}
		return fmt.Sprintf("mandatory-script-verify-flag-failed (%s)", reason)
	default:
		return ""
	}
}

// BlockReason is the reject string for a block carrying the transaction, or
// "" when the block may include it.
func (v Verdict) BlockReason() string {
	if v.Class != Rejected {
		return ""
	}
	reason, isScript := v.reason()
	if !isScript {
		return reason
	}
	return fmt.Sprintf("block-script-verify-flag-failed (%s)", reason)
}

// GateTransaction verifies every input of tc under the standard flags. On the
// first failure it reruns the whole transaction with only the mandatory flags
// in a fresh context: a mandatory failure rejects, otherwise the standard
// failure only discourages.
func GateTransaction(tc *TxContext, standard, mandatory ScriptFlags) Verdict {
	if tc == nil || tc.Tx == nil {
		return Verdict{Class: Rejected, InputIndex: -1, Err: txerr(TX_ERR_PARSE, "nil tx context")}
	}
	for i := range tc.Tx.TxIn {
		err := VerifyInputScript(tc, uint32(i), standard) // #nosec G115 -- input count is bounded by block size.
		if err == nil {
			continue
		}
		if idx, merr := verifyAllInputs(tc.Fresh(), mandatory); merr != nil {
			return Verdict{Class: Rejected, InputIndex: idx, Err: merr}
		}
		return Verdict{Class: Discouraged, InputIndex: i, Err: err}
	}
	return Verdict{Class: Accepted, InputIndex: -1}
}

func verifyAllInputs(tc *TxContext, flags ScriptFlags) (int, error) {
	for i := range tc.Tx.TxIn {
		if err := VerifyInputScript(tc, uint32(i), flags); err != nil { // #nosec G115 -- input count is bounded by block size.
			return i, err
		}
	}
	return -1, nil
}
