package bloom_test

import (
	"testing"

	"github.com/nmxmxh/dht-core/internal/bloom"
	"github.com/stretchr/testify/assert"
)

func TestSetAndFind(t *testing.T) {
	f := bloom.New(bloom.Size128)
	key := []byte("announcer-ip-hash-aaaa")
	assert.False(t, f.Find(key))
	f.Set(key)
	assert.True(t, f.Find(key))
}

func TestClearResetsBits(t *testing.T) {
	f := bloom.New(bloom.Size128)
	f.Set([]byte("x"))
	f.Clear()
	for _, b := range f.Bytes() {
		assert.Equal(t, byte(0), b)
	}
}

func TestFromBytesWrapsExisting(t *testing.T) {
	raw := make([]byte, bloom.Size256)
	raw[0] = 0xFF
	f := bloom.FromBytes(raw)
	assert.Equal(t, raw, f.Bytes())
}

func TestSizeEstimatorSaturatesNearTrueCount(t *testing.T) {
	f := bloom.New(bloom.Size256)
	const inserted = 50
	for i := 0; i < inserted; i++ {
		key := []byte{byte(i), byte(i * 7), byte(i * 13), byte(i * 31)}
		f.Set(key)
	}
	est := f.Size()
	assert.Greater(t, est, 0.0)
	// Loose bound: with two-hash insertion the estimator should stay within
	// an order of magnitude of the true count for this filter size.
	assert.Less(t, est, float64(inserted)*10)
}

func TestSizeOnEmptyFilterIsHalfDueToZeroBitClamp(t *testing.T) {
	// An empty filter has zero_bits == total_bits, which the estimator
	// clamps down to total_bits-1 to avoid a degenerate ratio of exactly
	// 1. With that clamp, numerator and denominator become the same
	// ln(1-1/total_bits) term, so the estimate is exactly 0.5 rather than
	// 0 — this matches the reference bloom filter's own min()-based clamp
	// (see bloom_filter.rs), not a bug in this port.
	f := bloom.New(bloom.Size128)
	assert.InDelta(t, 0.5, f.Size(), 0.0001)
}
