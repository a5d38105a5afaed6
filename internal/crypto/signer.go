package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds one wallet key and signs exchange requests with it.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyBytes, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	pk, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the wallet address as lower-case hex with a 0x prefix.
func (s *Signer) Address() string {
	return "0x" + hex.EncodeToString(s.address.Bytes())
}

// SignMessage produces a personal-sign signature over msg:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func (s *Signer) SignMessage(msg []byte) (string, error) {
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)))
	digest := ethcrypto.Keccak256(prefix, msg)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// SignPayload signs the canonical JSON of v: object keys sorted, no
// whitespace.
func (s *Signer) SignPayload(v any) (string, error) {
	msg, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return s.SignMessage(msg)
}

// CanonicalJSON encodes v with sorted object keys.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("crypto/signer: normalise payload: %w", err)
	}
	return json.Marshal(generic)
}

// RecoverAddress returns the address that produced sig over msg.
func RecoverAddress(msg []byte, sig string) (string, error) {
	b, err := hex.DecodeString(trim0x(sig))
	if err != nil || len(b) != 65 {
		return "", fmt.Errorf("crypto/signer: malformed signature")
	}
	if b[64] >= 27 {
		b[64] -= 27
	}
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)))
	pub, err := ethcrypto.SigToPub(ethcrypto.Keccak256(prefix, msg), b)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return "0x" + hex.EncodeToString(ethcrypto.PubkeyToAddress(*pub).Bytes()), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}
