package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/beam-cloud/vafs/pkg/vfserr"
)

// MemStore is an in-memory Store used by tests across the VAFS packages and
// by the "seed" shell mode for offline exploration. It is not part of the
// public API surface a real deployment would use, only a fixture.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte // bucket -> key -> bytes

	// GetRangeCalls counts GetRange invocations, for assertions that a
	// handler avoided a whole-object download.
	GetRangeCalls int
	GetCalls      int
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]map[string][]byte)}
}

// Put seeds an object's bytes.
func (m *MemStore) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string][]byte)
	}
	m.objects[bucket][key] = data
}

func (m *MemStore) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[bucket][key]
	if !ok {
		return ObjectInfo{}, vfserr.New(vfserr.NotFound, fmt.Sprintf("head %s/%s", bucket, key))
	}
	return ObjectInfo{Size: int64(len(b))}, nil
}

func (m *MemStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	m.GetCalls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[bucket][key]
	if !ok {
		return nil, vfserr.New(vfserr.NotFound, fmt.Sprintf("get %s/%s", bucket, key))
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemStore) GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	m.mu.Lock()
	m.GetRangeCalls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[bucket][key]
	if !ok {
		return nil, vfserr.New(vfserr.NotFound, fmt.Sprintf("get_range %s/%s", bucket, key))
	}
	if offset < 0 || offset > int64(len(b)) {
		return nil, vfserr.New(vfserr.InvalidFormat, fmt.Sprintf("range out of bounds offset=%d size=%d", offset, len(b)))
	}

	end := offset + length
	if end > int64(len(b)) {
		end = int64(len(b)) // short read at EOF, tolerated by callers
	}

	out := make([]byte, end-offset)
	copy(out, b[offset:end])
	return out, nil
}

func (m *MemStore) List(ctx context.Context, bucket, prefix, delim string) (ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result ListResult
	seen := map[string]bool{}

	keys := make([]string, 0, len(m.objects[bucket]))
	for k := range m.objects[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if idx := strings.Index(rest, delim); idx >= 0 {
				cp := prefix + rest[:idx+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					result.CommonPrefixes = append(result.CommonPrefixes, cp)
				}
				continue
			}
		}
		result.Objects = append(result.Objects, ObjectEntry{Key: k, Size: int64(len(m.objects[bucket][k]))})
	}

	return result, nil
}

func (m *MemStore) ListBuckets(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buckets := make([]string, 0, len(m.objects))
	for b := range m.objects {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	return buckets, nil
}
