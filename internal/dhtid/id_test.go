package dhtid_test

import (
	"math/rand"
	"testing"

	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXorSelfInverse(t *testing.T) {
	a := dhtid.Update([]byte("alpha"))
	b := dhtid.Update([]byte("bravo"))
	assert.Equal(t, a, a.Xor(b).Xor(b))
}

func TestLeadingZerosBoundaries(t *testing.T) {
	assert.Equal(t, 160, dhtid.Min().LeadingZeros())
	assert.Equal(t, 0, dhtid.Max().LeadingZeros())
}

func TestFromBytesRoundTrip(t *testing.T) {
	raw := make([]byte, dhtid.Size)
	for i := range raw {
		raw[i] = byte(i)
	}
	id, err := dhtid.FromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, id.Bytes())
}

func TestFromBytesWrongLength(t *testing.T) {
	_, err := dhtid.FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestShiftByWidthOrMoreYieldsZero(t *testing.T) {
	id := dhtid.Max()
	assert.Equal(t, dhtid.NodeId{}, id.ShiftLeft(160))
	assert.Equal(t, dhtid.NodeId{}, id.ShiftRight(200))
}

func TestDistanceExpZeroForEqualIds(t *testing.T) {
	id := dhtid.Update([]byte("same"))
	assert.Equal(t, 0, dhtid.DistanceExp(id, id))
}

func TestCompareOrdersLexicographically(t *testing.T) {
	low, _ := dhtid.FromBytes(append([]byte{0x00}, make([]byte, dhtid.Size-1)...))
	high, _ := dhtid.FromBytes(append([]byte{0x01}, make([]byte, dhtid.Size-1)...))
	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
	assert.Equal(t, 0, low.Compare(low))
}

func TestRangedRandomStaysInRange(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	lower := dhtid.Min()
	upper, _ := dhtid.FromBytes(append(make([]byte, dhtid.Size-1), 0x0F))
	for i := 0; i < 200; i++ {
		id := dhtid.RangedRandomWithRand(lower, upper, r)
		assert.True(t, lower.Compare(id) <= 0)
		assert.True(t, id.Compare(upper) <= 0)
	}
}

func TestAtDistanceMatchesDistanceExp(t *testing.T) {
	id := dhtid.Update([]byte("owner"))
	for _, exp := range []int{0, 1, 5, 42, 159} {
		other := dhtid.AtDistance(id, exp)
		assert.Equal(t, exp, dhtid.DistanceExp(id, other))
	}
}
