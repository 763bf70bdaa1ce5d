package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/elmwood/oidcop/ticket"
)

// DataProtector is the symmetric primitive behind opaque token formats.
// Protect must produce a self-contained ciphertext that only the same
// protector (or one sharing its key) can reverse.
type DataProtector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(ciphertext []byte) ([]byte, error)
}

// AEADProtector implements DataProtector with XChaCha20-Poly1305. The
// random nonce is prepended to the ciphertext.
type AEADProtector struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	nonceSize int
}

// NewAEADProtector builds a protector from a 32-byte key.
func NewAEADProtector(key []byte) (*AEADProtector, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}
	return &AEADProtector{aead: aead, nonceSize: chacha20poly1305.NonceSizeX}, nil
}

func (p *AEADProtector) Protect(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *AEADProtector) Unprotect(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < p.nonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	return p.aead.Open(nil, ciphertext[:p.nonceSize], ciphertext[p.nonceSize:], nil)
}

// Format turns tickets into opaque strings and back, using a
// DataProtector for confidentiality and integrity. It is the default
// serialization for authorization codes and refresh tokens.
type Format struct {
	Protector DataProtector
}

// Protect serializes and protects the ticket.
func (f *Format) Protect(ctx context.Context, t *ticket.Ticket) (string, error) {
	plain, err := t.Marshal()
	if err != nil {
		return "", err
	}
	sealed, err := f.Protector.Protect(plain)
	if err != nil {
		return "", fmt.Errorf("protecting ticket: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unprotect reverses Protect.
func (f *Format) Unprotect(ctx context.Context, s string) (*ticket.Ticket, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding ticket blob: %w", err)
	}
	plain, err := f.Protector.Unprotect(sealed)
	if err != nil {
		return nil, fmt.Errorf("unprotecting ticket: %w", err)
	}
	return ticket.Unmarshal(plain)
}

// NewRandomKey returns a fresh 32-byte protector key. Deployments with
// several instances must share the key instead.
func NewRandomKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
