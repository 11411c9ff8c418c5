package payment

import (
	"context"
	"crypto/rand"
	"sync"
)

const shortCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewShortCode returns a random code of the given length drawn from an
// URL-safe alphabet.
func NewShortCode(length int) string {
	if length <= 0 {
		length = 8
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic("payment: short code entropy unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = shortCodeAlphabet[int(b)%len(shortCodeAlphabet)]
	}
	return string(buf)
}

// MemoryLinks is an in-process ShortLinkStore for tests and single-node
// deployments without a database.
type MemoryLinks struct {
	mu    sync.RWMutex
	links map[string]string
}

// NewMemoryLinks returns an empty in-memory store.
func NewMemoryLinks() *MemoryLinks {
	return &MemoryLinks{links: make(map[string]string)}
}

func (m *MemoryLinks) SaveLink(_ context.Context, code, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[code] = url
	return nil
}

func (m *MemoryLinks) ResolveLink(_ context.Context, code string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url, ok := m.links[code]
	return url, ok, nil
}
