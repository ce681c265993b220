package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// KeyFormatError indicates a key file could not be parsed as an EC
// private key.
type KeyFormatError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (kfe *KeyFormatError) Error() string {
	return fmt.Sprintf("key file %q is not a valid EC private key: %s", kfe.Path, kfe.Err)
}

// Unwrap returns the underlying parse error.
func (kfe *KeyFormatError) Unwrap() error {
	return kfe.Err
}

// =============================================================================

// Keys represents the validator identity used to sign blocks and batches.
// Signing is ECDSA over P-256 with a SHA-256 digest.
type Keys struct {
	privateKey *ecdsa.PrivateKey
}

// GenerateKeys creates a new P-256 key pair.
func GenerateKeys() (*Keys, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	return &Keys{privateKey: privateKey}, nil
}

// LoadKeys reads a PEM encoded EC private key from the specified path.
func LoadKeys(path string) (*Keys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyFormatError{Path: path, Err: fmt.Errorf("no PEM block found")}
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {

		// The key may have been written in PKCS8 form by other tooling.
		key, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, &KeyFormatError{Path: path, Err: err}
		}

		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, &KeyFormatError{Path: path, Err: fmt.Errorf("key is not ECDSA")}
		}
		privateKey = ecKey
	}

	return &Keys{privateKey: privateKey}, nil
}

// SaveKeys writes the private key to the specified path in PEM form. Key
// material is sensitive so the file is written with owner-only permissions.
func SaveKeys(keys *Keys, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(keys.privateKey)
	if err != nil {
		return fmt.Errorf("encoding key: %w", err)
	}

	data := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: der,
	})

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}

	return nil
}

// PublicKey returns the public half of the key pair.
func (k *Keys) PublicKey() *ecdsa.PublicKey {
	return &k.privateKey.PublicKey
}

// PublicPEM returns the public key in PEM form for distribution to
// verifiers.
func (k *Keys) PublicPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.privateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}

	data := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	})

	return string(data), nil
}

// Sign hashes the specified data with SHA-256 and signs the digest,
// returning the base64 encoded ASN.1 signature.
func (k *Keys) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)

	sig, err := ecdsa.SignASN1(rand.Reader, k.privateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether the base64 encoded signature is valid for the
// specified data and public key. Malformed signatures return false, they
// never produce an error.
func Verify(data []byte, signatureB64 string, publicKey *ecdsa.PublicKey) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(data)

	return ecdsa.VerifyASN1(publicKey, digest[:], sig)
}
