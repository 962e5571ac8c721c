// Package proof signs outgoing storage requests with WOPI proof headers:
// an RSA-SHA256 signature over the access token, the request URL, and a
// timestamp, proving the caller's identity to the host without a handshake.
package proof

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Proof header names.
const (
	HeaderProof     = "X-WOPI-Proof"
	HeaderProofOld  = "X-WOPI-ProofOld"
	HeaderTimeStamp = "X-WOPI-TimeStamp"
)

// ticksEpochOffset converts Unix seconds to .NET ticks (100ns units since
// 0001-01-01), the timestamp format the proof scheme mandates.
const ticksEpochOffset = 62135596800

// Signer holds the current and, during rotation, the previous signing key.
// A nil Signer adds no headers.
type Signer struct {
	key    *rsa.PrivateKey
	oldKey *rsa.PrivateKey
}

// NewSigner creates a Signer from in-memory keys. oldKey may be nil.
func NewSigner(key, oldKey *rsa.PrivateKey) *Signer {
	if key == nil {
		return nil
	}
	if oldKey == nil {
		oldKey = key
	}
	return &Signer{key: key, oldKey: oldKey}
}

// LoadSigner reads PEM-encoded RSA private keys from keyPath and, when
// non-empty, oldKeyPath. An empty keyPath yields a nil Signer, which
// disables proof headers.
func LoadSigner(keyPath, oldKeyPath string) (*Signer, error) {
	if keyPath == "" {
		return nil, nil
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading proof key: %w", err)
	}
	oldKey := key
	if oldKeyPath != "" {
		oldKey, err = loadKey(oldKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading old proof key: %w", err)
		}
	}
	return &Signer{key: key, oldKey: oldKey}, nil
}

// GenerateSigner creates a Signer with a fresh 2048-bit key. Test use.
func GenerateSigner() (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, oldKey: key}, nil
}

// Headers returns the proof header set for a request to url carrying the
// given decoded access token at time now. The returned map is nil for a nil
// Signer.
func (s *Signer) Headers(accessToken, url string, now time.Time) (map[string]string, error) {
	if s == nil {
		return nil, nil
	}

	timestamp := now.UTC().Unix()*10000000 + ticksEpochOffset*10000000 + int64(now.Nanosecond()/100)
	payload := proofPayload(accessToken, url, timestamp)
	digest := sha256.Sum256(payload)

	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing proof: %w", err)
	}
	oldSig, err := rsa.SignPKCS1v15(rand.Reader, s.oldKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing proof with old key: %w", err)
	}

	return map[string]string{
		HeaderProof:     base64.StdEncoding.EncodeToString(sig),
		HeaderProofOld:  base64.StdEncoding.EncodeToString(oldSig),
		HeaderTimeStamp: strconv.FormatInt(timestamp, 10),
	}, nil
}

// Verify checks a proof signature against the signer's current public key.
// Hosts use the discovery key for this; exposed here for tests.
func (s *Signer) Verify(accessToken, url string, timestamp int64, proofB64 string) error {
	if s == nil {
		return fmt.Errorf("no signer")
	}
	sig, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return fmt.Errorf("decoding proof: %w", err)
	}
	digest := sha256.Sum256(proofPayload(accessToken, url, timestamp))
	return rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, digest[:], sig)
}

// proofPayload assembles the signed byte sequence: each component prefixed
// with its big-endian 32-bit length — token bytes, uppercased URL bytes,
// then the 8-byte big-endian timestamp.
func proofPayload(accessToken, url string, timestamp int64) []byte {
	token := []byte(accessToken)
	upperURL := []byte(strings.ToUpper(url))

	buf := make([]byte, 0, 4+len(token)+4+len(upperURL)+4+8)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(token)))
	buf = append(buf, token...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(upperURL)))
	buf = append(buf, upperURL...)
	buf = binary.BigEndian.AppendUint32(buf, 8)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	return buf
}

// loadKey parses the first PEM block of the file as a PKCS#1 or PKCS#8 RSA
// private key.
func loadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key in %s is not RSA", path)
	}
	return key, nil
}
