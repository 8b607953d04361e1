package consensus

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	TX_ERR_PARSE                ErrorCode = "TX_ERR_PARSE"
	TX_ERR_VIN_EMPTY            ErrorCode = "TX_ERR_VIN_EMPTY"
	TX_ERR_VOUT_EMPTY           ErrorCode = "TX_ERR_VOUT_EMPTY"
	TX_ERR_VALUE_RANGE          ErrorCode = "TX_ERR_VALUE_RANGE"
	TX_ERR_DUPLICATE_INPUT      ErrorCode = "TX_ERR_DUPLICATE_INPUT"
	TX_ERR_MISSING_UTXO         ErrorCode = "TX_ERR_MISSING_UTXO"
	TX_ERR_VALUE_CONSERVATION   ErrorCode = "TX_ERR_VALUE_CONSERVATION"
	TX_ERR_UNEXPECTED_COINBASE  ErrorCode = "TX_ERR_UNEXPECTED_COINBASE"
	TX_ERR_NONSTANDARD_VERSION  ErrorCode = "TX_ERR_NONSTANDARD_VERSION"
	TX_ERR_COMMITMENT_EMBEDDING ErrorCode = "TX_ERR_COMMITMENT_EMBEDDING"

	BLOCK_ERR_PARSE             ErrorCode = "BLOCK_ERR_PARSE"
	BLOCK_ERR_LINKAGE_INVALID   ErrorCode = "BLOCK_ERR_LINKAGE_INVALID"
	BLOCK_ERR_MERKLE_INVALID    ErrorCode = "BLOCK_ERR_MERKLE_INVALID"
	BLOCK_ERR_COINBASE_MISSING  ErrorCode = "BLOCK_ERR_COINBASE_MISSING"
	BLOCK_ERR_COINBASE_MULTIPLE ErrorCode = "BLOCK_ERR_COINBASE_MULTIPLE"
	BLOCK_ERR_COINBASE_AMOUNT   ErrorCode = "BLOCK_ERR_COINBASE_AMOUNT"
	BLOCK_ERR_DUPLICATE_TX      ErrorCode = "BLOCK_ERR_DUPLICATE_TX"
	BLOCK_ERR_WITNESS_COMMIT    ErrorCode = "BLOCK_ERR_WITNESS_COMMIT"
	BLOCK_ERR_UNEXPECTED_WIT    ErrorCode = "BLOCK_ERR_UNEXPECTED_WIT"

	SCRIPT_ERR_INVALID_STACK_OPERATION            ErrorCode = "SCRIPT_ERR_INVALID_STACK_OPERATION"
	SCRIPT_ERR_DISCOURAGE_UPGRADABLE_NOPS         ErrorCode = "SCRIPT_ERR_DISCOURAGE_UPGRADABLE_NOPS"
	SCRIPT_ERR_TEMPLATE_MISMATCH                  ErrorCode = "SCRIPT_ERR_TEMPLATE_MISMATCH"
	SCRIPT_ERR_EVAL_FALSE                         ErrorCode = "SCRIPT_ERR_EVAL_FALSE"
	SCRIPT_ERR_VERIFY                             ErrorCode = "SCRIPT_ERR_VERIFY"
	SCRIPT_ERR_EQUALVERIFY                        ErrorCode = "SCRIPT_ERR_EQUALVERIFY"
	SCRIPT_ERR_OP_RETURN                          ErrorCode = "SCRIPT_ERR_OP_RETURN"
	SCRIPT_ERR_BAD_OPCODE                         ErrorCode = "SCRIPT_ERR_BAD_OPCODE"
	SCRIPT_ERR_SCRIPT_SIZE                        ErrorCode = "SCRIPT_ERR_SCRIPT_SIZE"
	SCRIPT_ERR_PUSH_SIZE                          ErrorCode = "SCRIPT_ERR_PUSH_SIZE"
	SCRIPT_ERR_STACK_SIZE                         ErrorCode = "SCRIPT_ERR_STACK_SIZE"
	SCRIPT_ERR_SIG_PUSHONLY                       ErrorCode = "SCRIPT_ERR_SIG_PUSHONLY"
	SCRIPT_ERR_CLEANSTACK                         ErrorCode = "SCRIPT_ERR_CLEANSTACK"
	SCRIPT_ERR_WITNESS_PROGRAM_WRONG_LENGTH       ErrorCode = "SCRIPT_ERR_WITNESS_PROGRAM_WRONG_LENGTH"
	SCRIPT_ERR_WITNESS_PROGRAM_WITNESS_EMPTY      ErrorCode = "SCRIPT_ERR_WITNESS_PROGRAM_WITNESS_EMPTY"
	SCRIPT_ERR_WITNESS_PROGRAM_MISMATCH           ErrorCode = "SCRIPT_ERR_WITNESS_PROGRAM_MISMATCH"
	SCRIPT_ERR_WITNESS_MALLEATED                  ErrorCode = "SCRIPT_ERR_WITNESS_MALLEATED"
	SCRIPT_ERR_WITNESS_MALLEATED_P2SH             ErrorCode = "SCRIPT_ERR_WITNESS_MALLEATED_P2SH"
	SCRIPT_ERR_WITNESS_UNEXPECTED                 ErrorCode = "SCRIPT_ERR_WITNESS_UNEXPECTED"
	SCRIPT_ERR_DISCOURAGE_UPGRADABLE_WITNESS      ErrorCode = "SCRIPT_ERR_DISCOURAGE_UPGRADABLE_WITNESS"
	SCRIPT_ERR_DISCOURAGE_UPGRADABLE_TAPROOT_LEAF ErrorCode = "SCRIPT_ERR_DISCOURAGE_UPGRADABLE_TAPROOT_LEAF"
	SCRIPT_ERR_TAPROOT_CONTROL_BLOCK              ErrorCode = "SCRIPT_ERR_TAPROOT_CONTROL_BLOCK"
	SCRIPT_ERR_SCHNORR_SIG                        ErrorCode = "SCRIPT_ERR_SCHNORR_SIG"
)

// scriptReasons are the stable, machine-matchable reason strings surfaced to
// relay and block submitters. They match the strings used by Bitcoin Core.
var scriptReasons = map[ErrorCode]string{
	SCRIPT_ERR_INVALID_STACK_OPERATION:            "Operation not valid with the current stack size",
	SCRIPT_ERR_DISCOURAGE_UPGRADABLE_NOPS:         "NOPx reserved for soft-fork upgrades",
	SCRIPT_ERR_TEMPLATE_MISMATCH:                  "Script failed an OP_CHECKTEMPLATEVERIFY operation",
	SCRIPT_ERR_EVAL_FALSE:                         "Script evaluated without error but finished with a false/empty top stack element",
	SCRIPT_ERR_VERIFY:                             "Script failed an OP_VERIFY operation",
	SCRIPT_ERR_EQUALVERIFY:                        "Script failed an OP_EQUALVERIFY operation",
	SCRIPT_ERR_OP_RETURN:                          "OP_RETURN was encountered",
	SCRIPT_ERR_BAD_OPCODE:                         "Opcode missing or not understood",
	SCRIPT_ERR_SCRIPT_SIZE:                        "Script is too big",
	SCRIPT_ERR_PUSH_SIZE:                          "Push value size limit exceeded",
	SCRIPT_ERR_STACK_SIZE:                         "Stack size limit exceeded",
	SCRIPT_ERR_SIG_PUSHONLY:                       "Only push operators allowed in signatures",
	SCRIPT_ERR_CLEANSTACK:                         "Stack size must be exactly one after execution",
	SCRIPT_ERR_WITNESS_PROGRAM_WRONG_LENGTH:       "Witness program has incorrect length",
	SCRIPT_ERR_WITNESS_PROGRAM_WITNESS_EMPTY:      "Witness program was passed an empty witness",
	SCRIPT_ERR_WITNESS_PROGRAM_MISMATCH:           "Witness program hash mismatch",
	SCRIPT_ERR_WITNESS_MALLEATED:                  "Witness requires empty scriptSig",
	SCRIPT_ERR_WITNESS_MALLEATED_P2SH:             "Witness requires only-redeemscript scriptSig",
	SCRIPT_ERR_WITNESS_UNEXPECTED:                 "Witness provided for non-witness script",
	SCRIPT_ERR_DISCOURAGE_UPGRADABLE_WITNESS:      "Witness version reserved for soft-fork upgrades",
	SCRIPT_ERR_DISCOURAGE_UPGRADABLE_TAPROOT_LEAF: "Taproot version reserved for soft-fork upgrades",
	SCRIPT_ERR_TAPROOT_CONTROL_BLOCK:              "Invalid Taproot control block",
	SCRIPT_ERR_SCHNORR_SIG:                        "Invalid Schnorr signature",
}

// rejectReasons maps structural tx/block codes to Bitcoin Core reject strings.
var rejectReasons = map[ErrorCode]string{
	TX_ERR_PARSE:                "bad-txns-malformed",
	TX_ERR_VIN_EMPTY:            "bad-txns-vin-empty",
	TX_ERR_VOUT_EMPTY:           "bad-txns-vout-empty",
	TX_ERR_VALUE_RANGE:          "bad-txns-vout-toolarge",
	TX_ERR_DUPLICATE_INPUT:      "bad-txns-inputs-duplicate",
	TX_ERR_MISSING_UTXO:         "bad-txns-inputs-missingorspent",
	TX_ERR_VALUE_CONSERVATION:   "bad-txns-in-belowout",
	TX_ERR_UNEXPECTED_COINBASE:  "coinbase",
	TX_ERR_NONSTANDARD_VERSION:  "version",
	TX_ERR_COMMITMENT_EMBEDDING: "bad-commitment-embedding",
	BLOCK_ERR_PARSE:             "bad-blk-malformed",
	BLOCK_ERR_LINKAGE_INVALID:   "bad-prevblk",
	BLOCK_ERR_MERKLE_INVALID:    "bad-txnmrklroot",
	BLOCK_ERR_COINBASE_MISSING:  "bad-cb-missing",
	BLOCK_ERR_COINBASE_MULTIPLE: "bad-cb-multiple",
	BLOCK_ERR_COINBASE_AMOUNT:   "bad-cb-amount",
	BLOCK_ERR_DUPLICATE_TX:      "bad-txns-duplicate",
	BLOCK_ERR_WITNESS_COMMIT:    "bad-witness-merkle-match",
	BLOCK_ERR_UNEXPECTED_WIT:    "unexpected-witness",
}

// IsScript reports whether the code was produced by script execution.
func (c ErrorCode) IsScript() bool {
	_, ok := scriptReasons[c]
	return ok
}

// Reason returns the stable human-facing reason for the code.
func (c ErrorCode) Reason() string {
	if r, ok := scriptReasons[c]; ok {
		return r
	}
	if r, ok := rejectReasons[c]; ok {
		return r
	}
	return string(c)
}

// Mutation reports whether a block failing with this code may be a malleated
// copy of a valid block with the same header hash. Such failures say nothing
// about the block hash itself.
func (c ErrorCode) Mutation() bool {
	switch c {
	case BLOCK_ERR_MERKLE_INVALID, BLOCK_ERR_DUPLICATE_TX, BLOCK_ERR_WITNESS_COMMIT, BLOCK_ERR_UNEXPECTED_WIT:
		return true
	}
	return false
}

type TxError struct {
	Code ErrorCode
	Msg  string
}

func (e *TxError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func txerr(code ErrorCode, msg string) error {
	return &TxError{Code: code, Msg: msg}
}

// ErrorCodeOf extracts the ErrorCode carried by err, if any.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var te *TxError
	if errors.As(err, &te) && te != nil {
		return te.Code, true
	}
	return "", false
}
