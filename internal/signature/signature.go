// Package signature implements the provider's signed-request scheme: a
// canonical signing string over method, URL, payload digest, nonce and
// timestamp, signed with the merchant RSA key.
package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/rmpay/errs"
	"github.com/coachpo/rmpay/internal/canonical"
)

const (
	signType    = "sha256"
	nonceLength = 32
	nonceChars  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Signed carries one outbound request's signature material. The nonce and
// timestamp are part of what was signed and must be echoed as transport
// headers alongside the signature.
type Signed struct {
	Signature string
	Nonce     string
	Timestamp int64
}

// Signer produces request signatures with the merchant private key.
type Signer struct {
	key   *rsa.PrivateKey
	clock func() time.Time
}

// NewSigner parses the PEM-encoded RSA private key. PKCS#1 and PKCS#8
// encodings are accepted.
func NewSigner(privateKeyPEM []byte) (*Signer, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, clock: time.Now}, nil
}

// Sign builds the canonical signing string for the request and signs it with
// a fresh nonce and the current unix timestamp.
func (s *Signer) Sign(method, url string, payload map[string]any) (Signed, error) {
	nonce, err := Nonce()
	if err != nil {
		return Signed{}, err
	}
	return s.SignAt(method, url, payload, nonce, s.clock().Unix())
}

// SignAt signs the request with the caller-supplied nonce and timestamp.
// Given fixed inputs the signature is deterministic.
func (s *Signer) SignAt(method, url string, payload map[string]any, nonce string, timestamp int64) (Signed, error) {
	if s == nil || s.key == nil {
		return Signed{}, errs.New("signature.sign", errs.CodeSigning,
			errs.WithMessage("private key not configured"))
	}
	signing, err := SigningString(method, url, payload, nonce, timestamp)
	if err != nil {
		return Signed{}, err
	}
	digest := sha256.Sum256([]byte(signing))
	raw, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return Signed{}, errs.New("signature.sign", errs.CodeSigning,
			errs.WithMessage("rsa signing failed"), errs.WithCause(err))
	}
	return Signed{
		Signature: base64.StdEncoding.EncodeToString(raw),
		Nonce:     nonce,
		Timestamp: timestamp,
	}, nil
}

// Verifier checks request signatures against the provider-registered public key.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses the PEM-encoded RSA public key.
func NewVerifier(publicKeyPEM []byte) (*Verifier, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errs.New("signature.verifier", errs.CodeSigning,
			errs.WithMessage("public key is not valid PEM"))
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if rsaKey, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes); pkcs1Err == nil {
			return &Verifier{key: rsaKey}, nil
		}
		return nil, errs.New("signature.verifier", errs.CodeSigning,
			errs.WithMessage("public key parse failed"), errs.WithCause(err))
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errs.New("signature.verifier", errs.CodeSigning,
			errs.WithMessage("public key is not RSA"))
	}
	return &Verifier{key: rsaKey}, nil
}

// Verify reports whether the signature matches the request material.
func (v *Verifier) Verify(method, url string, payload map[string]any, nonce string, timestamp int64, sig string) error {
	if v == nil || v.key == nil {
		return errs.New("signature.verify", errs.CodeSigning,
			errs.WithMessage("public key not configured"))
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return errs.New("signature.verify", errs.CodeSigning,
			errs.WithMessage("signature is not valid base64"), errs.WithCause(err))
	}
	signing, err := SigningString(method, url, payload, nonce, timestamp)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(signing))
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], raw); err != nil {
		return errs.New("signature.verify", errs.CodeSigning,
			errs.WithMessage("signature mismatch"), errs.WithCause(err))
	}
	return nil
}

// SigningString assembles the ordered key=value segments joined by '&'. The
// data segment is omitted entirely when the payload is empty.
func SigningString(method, url string, payload map[string]any, nonce string, timestamp int64) (string, error) {
	segments := make([]string, 0, 6)
	data, err := canonical.Marshal(payload)
	if err != nil {
		return "", err
	}
	if len(data) > 0 {
		segments = append(segments, "data="+base64.StdEncoding.EncodeToString(data))
	}
	segments = append(segments,
		"method="+strings.ToLower(method),
		"nonceStr="+nonce,
		"requestUrl="+url,
		"signType="+signType,
		"timestamp="+strconv.FormatInt(timestamp, 10),
	)
	return strings.Join(segments, "&"), nil
}

// Nonce returns a fresh 32-character alphanumeric nonce drawn from
// crypto/rand. Nonces must be unpredictable; replay resistance depends on it.
func Nonce() (string, error) {
	max := big.NewInt(int64(len(nonceChars)))
	out := make([]byte, nonceLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errs.New("signature.nonce", errs.CodeSigning,
				errs.WithMessage("nonce entropy unavailable"), errs.WithCause(err))
		}
		out[i] = nonceChars[n.Int64()]
	}
	return string(out), nil
}

func parsePrivateKey(privateKeyPEM []byte) (*rsa.PrivateKey, error) {
	if len(privateKeyPEM) == 0 {
		return nil, errs.New("signature.signer", errs.CodeSigning,
			errs.WithMessage("private key missing"))
	}
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errs.New("signature.signer", errs.CodeSigning,
			errs.WithMessage("private key is not valid PEM"))
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.New("signature.signer", errs.CodeSigning,
			errs.WithMessage("private key parse failed"), errs.WithCause(err))
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errs.New("signature.signer", errs.CodeSigning,
			errs.WithMessage("private key is not RSA"))
	}
	return key, nil
}
