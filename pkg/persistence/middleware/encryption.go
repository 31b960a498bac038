package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// sealedPrefix marks a field value produced by the encryption middleware.
const sealedPrefix = "enc:v1:"

// ErrKeySize is returned when a key is not 32 bytes long.
var ErrKeySize = errors.New("encryption key must be 32 bytes (AES-256)")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey encrypts new data. Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key can't open a value.
	// This enables key rotation without rewriting every stored graph.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.GraphRepository
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals document titles and node state
// values with AES-GCM. Instance structure, edges and versions stay readable so repositories
// can keep enforcing optimistic locking.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrKeySize
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d: %w", i, ErrKeySize)
		}
	}
	return func(next ports.GraphRepository) ports.GraphRepository {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, graph *domain.Graph) error {
	return saveCopy(ctx, m.next, graph, func(g *domain.Graph) error {
		return m.apply(g, m.seal)
	})
}

func (m *encryptionMiddleware) Load(ctx context.Context, documentID string) (*domain.Graph, error) {
	g, err := m.next.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := m.apply(g, m.open); err != nil {
		return nil, fmt.Errorf("document '%s': %w", documentID, err)
	}
	return g, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, documentID string) error {
	return m.next.Delete(ctx, documentID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// apply runs fn over every protected field of g. Empty values are left as they are.
func (m *encryptionMiddleware) apply(g *domain.Graph, fn func(string) (string, error)) error {
	if g.Document.Title != "" {
		v, err := fn(g.Document.Title)
		if err != nil {
			return fmt.Errorf("title: %w", err)
		}
		g.Document.Title = v
	}
	for _, inst := range g.Instances() {
		for i, st := range inst.State {
			if st.Value == "" {
				continue
			}
			v, err := fn(st.Value)
			if err != nil {
				return fmt.Errorf("instance '%s' state '%s': %w", inst.ID, st.Key, err)
			}
			inst.State[i].Value = v
		}
	}
	return nil
}

func (m *encryptionMiddleware) seal(plain string) (string, error) {
	ciphertext, err := encrypt([]byte(plain), m.config.ActiveKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// open fails on plain values: once encryption is configured every stored field is expected
// to be sealed.
func (m *encryptionMiddleware) open(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", errors.New("value is not encrypted")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
