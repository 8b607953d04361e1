package consensus

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"rubin.dev/ctv/crypto"
)

// CommitmentScriptLen is len(OP_DATA_32 <hash> OP_CHECKTEMPLATEVERIFY).
const CommitmentScriptLen = 34

func CommitmentScript(hash [32]byte) []byte {
	s := make([]byte, 0, CommitmentScriptLen)
	s = append(s, txscript.OP_DATA_32)
	s = append(s, hash[:]...)
	return append(s, OP_CHECKTEMPLATEVERIFY)
}

// ParseCommitmentScript returns the committed hash when script is exactly a
// commitment script.
func ParseCommitmentScript(script []byte) ([32]byte, bool) {
	var h [32]byte
	if len(script) != CommitmentScriptLen || script[0] != txscript.OP_DATA_32 || script[33] != OP_CHECKTEMPLATEVERIFY {
		return h, false
	}
	copy(h[:], script[1:33])
	return h, true
}

type Embedding int

const (
	EmbedBare Embedding = iota
	EmbedP2WSH
	EmbedTaproot
	EmbedP2SH
)

func (e Embedding) String() string {
	switch e {
	case EmbedBare:
		return "bare"
	case EmbedP2WSH:
		return "p2wsh"
	case EmbedTaproot:
		return "taproot"
	case EmbedP2SH:
		return "p2sh"
	default:
		return fmt.Sprintf("embedding(%d)", int(e))
	}
}

func ParseEmbedding(s string) (Embedding, error) {
	for _, e := range []Embedding{EmbedBare, EmbedP2WSH, EmbedTaproot, EmbedP2SH} {
		if e.String() == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown embedding %q", s)
}

// ErrUnsupportedEmbedding is returned for P2SH. The scriptSig revealing the
// redeem script is part of the template hash the redeem script commits to, so
// such an output can never be spent.
var ErrUnsupportedEmbedding = &TxError{Code: TX_ERR_COMMITMENT_EMBEDDING, Msg: "p2sh cannot carry a template commitment"}

func P2WSHScript(p crypto.Provider, witnessScript []byte) []byte {
	h := p.SHA256(witnessScript)
	s := make([]byte, 0, 34)
	s = append(s, txscript.OP_0, txscript.OP_DATA_32)
	return append(s, h[:]...)
}

func P2SHScript(p crypto.Provider, redeemScript []byte) []byte {
	h := p.Hash160(redeemScript)
	s := make([]byte, 0, 23)
	s = append(s, txscript.OP_HASH160, txscript.OP_DATA_20)
	s = append(s, h[:]...)
	return append(s, txscript.OP_EQUAL)
}

// TaprootLeafSpend is a single-leaf taproot output whose leaf is a
// commitment script, together with what a script-path spend reveals.
type TaprootLeafSpend struct {
	InternalKey  *btcec.PublicKey
	OutputKey    *btcec.PublicKey
	LeafScript   []byte
	ControlBlock []byte
	PkScript     []byte
}

func TaprootCommitment(internalKey *btcec.PublicKey, leafScript []byte) (*TaprootLeafSpend, error) {
	if internalKey == nil {
		return nil, fmt.Errorf("taproot: nil internal key")
	}
	tree := txscript.AssembleTaprootScriptTree(txscript.NewBaseTapLeaf(leafScript))
	root := tree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, root[:])
	pkScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, fmt.Errorf("taproot: output script: %w", err)
	}
	cb := tree.LeafMerkleProofs[0].ToControlBlock(internalKey)
	cbBytes, err := cb.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("taproot: control block: %w", err)
	}
	return &TaprootLeafSpend{
		InternalKey:  internalKey,
		OutputKey:    outputKey,
		LeafScript:   append([]byte(nil), leafScript...),
		ControlBlock: cbBytes,
		PkScript:     pkScript,
	}, nil
}

// Witness returns the script-path witness: args, then the leaf, then the
// control block.
func (s *TaprootLeafSpend) Witness(args ...[]byte) wire.TxWitness {
	w := make(wire.TxWitness, 0, len(args)+2)
	w = append(w, args...)
	return append(w, s.LeafScript, s.ControlBlock)
}

// Commitment is a commitment script placed in an output.
type Commitment struct {
	Kind     Embedding
	Script   []byte
	PkScript []byte
	taproot  *TaprootLeafSpend
}

// Embed places the commitment to hash in an output of the given kind.
// internalKey is only used for EmbedTaproot.
func Embed(p crypto.Provider, kind Embedding, hash [32]byte, internalKey *btcec.PublicKey) (*Commitment, error) {
	script := CommitmentScript(hash)
	c := &Commitment{Kind: kind, Script: script}
	switch kind {
	case EmbedBare:
		c.PkScript = script
	case EmbedP2WSH:
		c.PkScript = P2WSHScript(p, script)
	case EmbedTaproot:
		leaf, err := TaprootCommitment(internalKey, script)
		if err != nil {
			return nil, err
		}
		c.taproot = leaf
		c.PkScript = leaf.PkScript
	case EmbedP2SH:
		return nil, ErrUnsupportedEmbedding
	default:
		return nil, fmt.Errorf("unknown embedding %d", int(kind))
	}
	return c, nil
}

// SpendWitness is the witness an input spending c carries. Bare outputs take
// none.
func (c *Commitment) SpendWitness() wire.TxWitness {
	switch c.Kind {
	case EmbedP2WSH:
		return wire.TxWitness{c.Script}
	case EmbedTaproot:
		return c.taproot.Witness()
	default:
		return nil
	}
}

// Taproot returns the leaf details for taproot commitments, nil otherwise.
func (c *Commitment) Taproot() *TaprootLeafSpend {
	return c.taproot
}

