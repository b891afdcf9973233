// Package crypto implements the at-rest encryption of message bodies and the
// asymmetric wrapping used to hand symmetric keys to other parties.
//
// Message bodies use AES-256-CBC with PKCS#7 padding. Every Encrypt call draws
// a fresh IV, and the stored blob is base64(IV || ciphertext). Symmetric keys
// travel wrapped with RSA-OAEP (SHA-256) under a 2048-bit or larger key pair.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the symmetric key length in bytes.
	KeySize = 32
	// MinRSABits is the smallest accepted modulus for key wrapping.
	MinRSABits = 2048
)

// ErrCrypto is the root of every encryption, decryption and wrapping failure.
var ErrCrypto = errors.New("crypto error")

var (
	errDecrypt = fmt.Errorf("%w: decryption failed", ErrCrypto)
	errKeySize = fmt.Errorf("%w: key must be %d bytes", ErrCrypto, KeySize)
)

// KeyPair holds PEM-encoded RSA keys (PKCS#1 private, PKIX public).
type KeyPair struct {
	PrivatePEM []byte
	PublicPEM  []byte
}

// Engine performs symmetric encryption and key wrapping. It holds no key
// material of its own; keys are always supplied by the caller.
type Engine struct {
	random  io.Reader
	rsaBits int
}

// Option customises an Engine.
type Option func(*Engine)

// WithRandom overrides the entropy source.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.random = r }
}

// WithRSABits sets the modulus size used by GenerateKeyPair. Values below
// MinRSABits are raised to MinRSABits.
func WithRSABits(bits int) Option {
	return func(e *Engine) {
		if bits < MinRSABits {
			bits = MinRSABits
		}
		e.rsaBits = bits
	}
}

// NewEngine constructs an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{random: rand.Reader, rsaBits: MinRSABits}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateKey returns a fresh random 256-bit symmetric key.
func (e *Engine) GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(e.random, key); err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrCrypto, err)
	}
	return key, nil
}

// Encrypt seals plaintext under key and returns base64(IV || ciphertext).
func (e *Engine) Encrypt(plaintext string, key []byte) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(e.random, iv); err != nil {
		return "", fmt.Errorf("%w: generate iv: %v", ErrCrypto, err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any format, padding or key mismatch yields an
// error wrapping ErrCrypto.
func (e *Engine) Decrypt(blob string, key []byte) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", errDecrypt
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", errDecrypt
	}

	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", errDecrypt
	}
	return string(plain), nil
}

// GenerateKeyPair creates a new RSA key pair for key transport.
func (e *Engine) GenerateKeyPair() (KeyPair, error) {
	priv, err := rsa.GenerateKey(e.random, e.rsaBits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: generate key pair: %v", ErrCrypto, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: marshal public key: %v", ErrCrypto, err)
	}
	return KeyPair{
		PrivatePEM: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
		PublicPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	}, nil
}

// WrapKey encrypts a symmetric key for the holder of publicPEM and returns it base64 encoded.
func (e *Engine) WrapKey(key, publicPEM []byte) (string, error) {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return "", err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), e.random, pub, key, nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrap key: %v", ErrCrypto, err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// UnwrapKey reverses WrapKey with the matching private key.
func (e *Engine) UnwrapKey(blob string, privatePEM []byte) ([]byte, error) {
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: malformed blob", ErrCrypto)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %v", ErrCrypto, err)
	}
	return key, nil
}

// ParsePublicKey accepts PKIX ("PUBLIC KEY") or PKCS#1 ("RSA PUBLIC KEY") PEM.
func ParsePublicKey(publicPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(publicPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: malformed public key", ErrCrypto)
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key: %v", ErrCrypto, err)
		}
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: public key is not RSA", ErrCrypto)
		}
		pub = rsaPub
	case "RSA PUBLIC KEY":
		parsed, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key: %v", ErrCrypto, err)
		}
		pub = parsed
	default:
		return nil, fmt.Errorf("%w: unsupported public key type %q", ErrCrypto, block.Type)
	}

	if pub.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("%w: public key must be at least %d bits", ErrCrypto, MinRSABits)
	}
	return pub, nil
}

// ParsePrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") or PKCS#8 ("PRIVATE KEY") PEM.
func ParsePrivateKey(privatePEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privatePEM)
	if block == nil {
		return nil, fmt.Errorf("%w: malformed private key", ErrCrypto)
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key: %v", ErrCrypto, err)
		}
		return priv, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key: %v", ErrCrypto, err)
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is not RSA", ErrCrypto)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: unsupported private key type %q", ErrCrypto, block.Type)
	}
}

// PublicFromPrivate derives the PKIX public PEM for a private key PEM.
func PublicFromPrivate(privatePEM []byte) ([]byte, error) {
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %v", ErrCrypto, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, errKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return block, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errDecrypt
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errDecrypt
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errDecrypt
		}
	}
	return data[:len(data)-n], nil
}
