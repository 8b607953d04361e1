package crypto

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160" // #nosec G507 -- HASH160 is a consensus rule, not a design choice.
)

// StdProvider hashes with the Go standard SHA-256 (through chainhash) and
// x/crypto RIPEMD-160.
type StdProvider struct{}

func (StdProvider) SHA256(input []byte) [32]byte {
	return chainhash.HashH(input)
}

// Hash160 returns RIPEMD160(SHA256(input)).
func (p StdProvider) Hash160(input []byte) [20]byte {
	sum := p.SHA256(input)
	h := ripemd160.New()
	_, _ = h.Write(sum[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
