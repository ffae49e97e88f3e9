package internal

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// CSPRNG is a cryptographically seeded source of uniformly distributed
// 32-bit values, used for initial sequence numbers and ephemeral port
// selection. Seeded once from crypto/rand at construction; safe for
// concurrent use.
type CSPRNG struct {
	mu     sync.Mutex
	cipher *chacha20.Cipher
	zero   [4]byte
}

// NewCSPRNG seeds a fresh chacha20 keystream from the OS CSPRNG.
func NewCSPRNG() (*CSPRNG, error) {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, err
	}
	return &CSPRNG{cipher: c}, nil
}

// Uint32 returns the next keystream word.
func (c *CSPRNG) Uint32() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [4]byte
	c.cipher.XORKeyStream(out[:], c.zero[:])
	return binary.LittleEndian.Uint32(out[:])
}
