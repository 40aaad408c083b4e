package secrets

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/ssh"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

const (
	pemPrivateKey = "PRIVATE KEY"
	pemPublicKey  = "PUBLIC KEY"
	pemOpenSSH    = "OPENSSH PRIVATE KEY"
	pemSealedKey  = "SHAREVAULT SEALED PRIVATE KEY"
)

// Identity is a member's key pair set.
type Identity struct {
	encryption *memguard.Enclave

	EncryptionPublicKey []byte
	SigningKey          ed25519.PrivateKey
}

// SigningPublicKey returns the Ed25519 public key of the identity.
func (id *Identity) SigningPublicKey() ed25519.PublicKey {
	return id.SigningKey.Public().(ed25519.PublicKey)
}

// GenerateIdentity creates fresh encryption and signing key pairs.
func GenerateIdentity() (*Identity, error) {
	scalar := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, scalar); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	_, signing, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		memguard.WipeBytes(scalar)
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	return newIdentity(scalar, signing)
}

// newIdentity takes ownership of scalar and wipes it.
func newIdentity(scalar []byte, signing ed25519.PrivateKey) (*Identity, error) {
	pub, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		memguard.WipeBytes(scalar)
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}
	return &Identity{
		encryption:          memguard.NewEnclave(scalar),
		EncryptionPublicKey: pub,
		SigningKey:          signing,
	}, nil
}

// Sign signs msg with the identity's signing key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.SigningKey, msg)
}

// Verify checks sig over msg with pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed signing key", kerrors.ErrInvalidSignature)
	}
	if !ed25519.Verify(pub, msg, sig) {
		return kerrors.ErrInvalidSignature
	}
	return nil
}

// KeySealer seals private key material at rest. keystore.Sealer satisfies it.
type KeySealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// SaveIdentity seals the encryption and signing private keys with sealer and
// writes them as PEM files with 0600 permissions.
func SaveIdentity(id *Identity, encryptionPath, signingPath string, sealer KeySealer) error {
	buf, err := id.encryption.Open()
	if err != nil {
		return fmt.Errorf("failed to open identity enclave: %w", err)
	}
	defer buf.Destroy()

	encPriv, err := ecdh.X25519().NewPrivateKey(buf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}
	encDER, err := x509.MarshalPKCS8PrivateKey(encPriv)
	if err != nil {
		return fmt.Errorf("failed to marshal encryption key: %w", err)
	}
	defer memguard.WipeBytes(encDER)

	signDER, err := x509.MarshalPKCS8PrivateKey(id.SigningKey)
	if err != nil {
		return fmt.Errorf("failed to marshal signing key: %w", err)
	}
	defer memguard.WipeBytes(signDER)

	if err := writeSealedPEM(encryptionPath, encDER, sealer); err != nil {
		return fmt.Errorf("failed to save encryption key: %w", err)
	}
	if err := writeSealedPEM(signingPath, signDER, sealer); err != nil {
		return fmt.Errorf("failed to save signing key: %w", err)
	}
	return nil
}

// LoadIdentity reads the key files written by SaveIdentity. A sealer built
// from the wrong passphrase fails with ErrWrongPassphrase. The signing key
// may instead be an OpenSSH Ed25519 private key, optionally protected by
// passphrase.
func LoadIdentity(encryptionPath, signingPath string, sealer KeySealer, passphrase []byte) (*Identity, error) {
	encData, err := os.ReadFile(encryptionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption key: %w", err)
	}
	scalar, err := parseEncryptionKey(encData, sealer)
	if err != nil {
		return nil, err
	}

	signData, err := os.ReadFile(signingPath)
	if err != nil {
		memguard.WipeBytes(scalar)
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	signing, err := parseStoredSigningKey(signData, sealer, passphrase)
	if err != nil {
		memguard.WipeBytes(scalar)
		return nil, err
	}

	return newIdentity(scalar, signing)
}

func parseEncryptionKey(data []byte, sealer KeySealer) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemSealedKey {
		return nil, fmt.Errorf("%w: failed to decode PEM block containing sealed encryption key", kerrors.ErrInvalidPrivateKey)
	}
	der, err := openSealed(block.Bytes, sealer)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(der)

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}
	ecdhKey, ok := key.(*ecdh.PrivateKey)
	if !ok || ecdhKey.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("%w: not an X25519 key", kerrors.ErrInvalidPrivateKey)
	}
	return ecdhKey.Bytes(), nil
}

func parseStoredSigningKey(data []byte, sealer KeySealer, passphrase []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemSealedKey {
		return ParseSigningKey(data, passphrase)
	}
	der, err := openSealed(block.Bytes, sealer)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(der)
	return parsePKCS8SigningKey(der)
}

func openSealed(sealed []byte, sealer KeySealer) ([]byte, error) {
	if sealer == nil {
		return nil, fmt.Errorf("%w: no sealer for stored private key", kerrors.ErrInvalidPrivateKey)
	}
	der, err := sealer.Open(sealed)
	if err != nil {
		if errors.Is(err, kerrors.ErrAuthentication) {
			return nil, kerrors.ErrWrongPassphrase
		}
		return nil, err
	}
	return der, nil
}

// ParseSigningKey parses a PKCS#8 or OpenSSH Ed25519 private key.
func ParseSigningKey(data []byte, passphrase []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block containing signing key", kerrors.ErrInvalidPrivateKey)
	}

	if block.Type == pemOpenSSH {
		return parseOpenSSHSigningKey(data, passphrase)
	}
	return parsePKCS8SigningKey(block.Bytes)
}

func parsePKCS8SigningKey(der []byte) (ed25519.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}
	signing, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 key", kerrors.ErrInvalidPrivateKey)
	}
	return signing, nil
}

func parseOpenSSHSigningKey(data []byte, passphrase []byte) (ed25519.PrivateKey, error) {
	var (
		raw any
		err error
	)
	if len(passphrase) > 0 {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, passphrase)
	} else {
		raw, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: OpenSSH key is passphrase protected", kerrors.ErrInvalidPrivateKey)
		}
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}

	switch k := raw.(type) {
	case *ed25519.PrivateKey:
		return *k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: OpenSSH key is %T, want ed25519", kerrors.ErrInvalidPrivateKey, raw)
	}
}

// MarshalPublicKeys returns PKIX PEM encodings of both public keys.
func MarshalPublicKeys(id *Identity) (encryption []byte, signing []byte, err error) {
	encPub, err := ecdh.X25519().NewPublicKey(id.EncryptionPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPublicKey, err)
	}
	encDER, err := x509.MarshalPKIXPublicKey(encPub)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal encryption public key: %w", err)
	}
	signDER, err := x509.MarshalPKIXPublicKey(id.SigningPublicKey())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal signing public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: encDER}),
		pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: signDER}), nil
}

func writeSealedPEM(path string, der []byte, sealer KeySealer) error {
	if sealer == nil {
		return fmt.Errorf("no sealer for %s", path)
	}
	sealed, err := sealer.Seal(der)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: pemSealedKey, Bytes: sealed}), 0600)
}
