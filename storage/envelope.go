package storage

import (
	"fmt"

	"github.com/jmcleod/ebm/internal/util"
)

const sealInfo = "ebm:cache-entry:v1"

// Sealer encrypts entry values at rest with AES-256-GCM. The table and key
// are bound as additional data so a sealed value cannot be replayed under
// another key.
type Sealer struct {
	key []byte
}

// NewSealer derives a sealing key from secret using HKDF-SHA256.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("sealer secret must not be empty")
	}
	key, err := util.HKDF(secret, nil, []byte(sealInfo))
	if err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext for the given table and key.
func (s *Sealer) Seal(table, key string, plaintext []byte) ([]byte, error) {
	return util.EncryptAESWithAAD(plaintext, s.key, aad(table, key))
}

// Open decrypts a value previously produced by Seal.
func (s *Sealer) Open(table, key string, sealed []byte) ([]byte, error) {
	return util.DecryptAESWithAAD(sealed, s.key, aad(table, key))
}

// Destroy wipes the sealing key.
func (s *Sealer) Destroy() {
	util.WipeBytes(s.key)
}

func aad(table, key string) []byte {
	return []byte(table + "\x00" + key)
}
