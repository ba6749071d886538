package cache

import (
	"bytes"
	"io"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

// Values above the soft limit are logged and brotli-compressed before the
// write still goes through. Callers must tolerate a stale cache, so an
// oversized entry is a warning, never a refusal.
const largeValueThreshold = 100 << 10

func buildEntry(key string, value interface{}, ttl time.Duration) (*types.CacheEntry, bool, error) {
	payload, err := utils.Marshal(value)
	if err != nil {
		return nil, false, types.WrapError(err, "failed to marshal cache value")
	}

	oversized := len(payload) > largeValueThreshold
	compressed := false

	if oversized {
		if squeezed, err := compressPayload(payload); err == nil && len(squeezed) < len(payload) {
			payload = squeezed
			compressed = true
		}
	}

	now := time.Now()
	entry := &types.CacheEntry{
		Version:    types.CacheEntryVersion,
		Key:        key,
		Value:      payload,
		Compressed: compressed,
		TTL:        ttl,
		CreatedAt:  now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	return entry, oversized, nil
}

// decodeEntry returns the raw payload bytes, or false for anything that
// cannot be decoded in full: version mismatch, expiry, bad compression.
func decodeEntry(entry *types.CacheEntry, now time.Time) ([]byte, bool) {
	if entry == nil || entry.Version != types.CacheEntryVersion {
		return nil, false
	}

	if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
		return nil, false
	}

	if !entry.Compressed {
		return entry.Value, true
	}

	payload, err := decompressPayload(entry.Value)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func compressPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestSpeed)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressPayload(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

func entrySize(key string, entry *types.CacheEntry) uint64 {
	// Rough accounting: key, payload and a fixed struct overhead.
	return uint64(len(key) + len(entry.Value) + 96)
}
