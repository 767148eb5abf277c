// Package blobstore provides BlobStore implementations: local disk, S3-compatible object
// storage and an in-memory store for tests.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/foldervault/foldervault/internal/drive"
)

// Memory keeps blobs in a map.
type Memory struct {
	blobs map[string][]byte
	types map[string]string
	mu    sync.RWMutex
}

var _ drive.BlobStore = (*Memory)(nil)

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{
		blobs: make(map[string][]byte),
		types: make(map[string]string),
	}
}

// Put stores the content of r under key.
func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return drive.E(drive.KindStorageFailure, "put blob", fmt.Errorf("read content: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	m.types[key] = contentType
	return nil
}

// Open returns a reader over the blob stored under key.
func (m *Memory) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, drive.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the blob stored under key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	delete(m.types, key)
	return nil
}

// SignedURL returns a mem:// reference carrying the expiry.
func (m *Memory) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return "", drive.ErrBlobNotFound
	}
	exp := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("mem://%s?expires=%d", url.PathEscape(key), exp), nil
}

// Keys lists the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Content returns a copy of the blob stored under key.
func (m *Memory) Content(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}
