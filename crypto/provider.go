package crypto

// Provider is the narrow hashing interface used by consensus code.
type Provider interface {
	SHA256(input []byte) [32]byte
	Hash160(input []byte) [20]byte
}
