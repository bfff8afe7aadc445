package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// quotePrefix domain-separates price quote digests from any other signed
// payload so a quote signature can never be replayed as something else.
const quotePrefix = "\x19veilmarket price quote:\n"

// QuoteDigest computes the 32-byte digest a price reporter signs:
// keccak256 of a fixed prefix, the feed ID, and the big-endian encodings of
// round, price, and the quote's Unix timestamp.
func QuoteDigest(feedID string, round uint64, price int64, updatedAtUnix int64) []byte {
	buf := make([]byte, 0, len(quotePrefix)+len(feedID)+24)
	buf = append(buf, quotePrefix...)
	buf = append(buf, feedID...)
	buf = binary.BigEndian.AppendUint64(buf, round)
	buf = binary.BigEndian.AppendUint64(buf, uint64(price))
	buf = binary.BigEndian.AppendUint64(buf, uint64(updatedAtUnix))
	return ethcrypto.Keccak256(buf)
}

// VerifyQuote checks that sig is a valid secp256k1 signature over the quote
// digest and recovers to the expected reporter address. sig is the 65-byte
// r||s||v form with v in {0,1} or {27,28}.
func VerifyQuote(feedID string, round uint64, price int64, updatedAtUnix int64, sig []byte, reporter common.Address) error {
	if len(sig) != 65 {
		return fmt.Errorf("crypto/quote: signature length %d, want 65", len(sig))
	}

	// Normalize the recovery byte for go-ethereum, which wants v in {0,1}.
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}

	digest := QuoteDigest(feedID, round, price, updatedAtUnix)
	pub, err := ethcrypto.SigToPub(digest, s)
	if err != nil {
		return fmt.Errorf("crypto/quote: recover public key: %w", err)
	}

	if recovered := ethcrypto.PubkeyToAddress(*pub); recovered != reporter {
		return fmt.Errorf("crypto/quote: recovered %s, want reporter %s", recovered.Hex(), reporter.Hex())
	}
	return nil
}

// QuoteSigner signs price quotes with a secp256k1 key. Production reporters
// run outside this service; the signer exists for integration tests and the
// sandbox oracle.
type QuoteSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewQuoteSigner creates a QuoteSigner from a hex-encoded secp256k1 private
// key.
func NewQuoteSigner(privateKeyHex string) (*QuoteSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/quote: invalid private key: %w", err)
	}

	return &QuoteSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the reporter address derived from the signing key.
func (s *QuoteSigner) Address() common.Address {
	return s.address
}

// SignQuote signs the quote digest and returns a 65-byte r||s||v signature
// with v in {27,28}.
func (s *QuoteSigner) SignQuote(feedID string, round uint64, price int64, updatedAtUnix int64) ([]byte, error) {
	digest := QuoteDigest(feedID, round, price, updatedAtUnix)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/quote: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
