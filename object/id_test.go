package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum("Commit", []byte("hello"))
	b := Sum("Commit", []byte("hello"))
	assert.Equal(t, a, b)

	c := Sum("Content", []byte("hello"))
	assert.NotEqual(t, a, c)

	d := Sum("Commit", []byte("world"))
	assert.NotEqual(t, a, d)
}

func TestParseIDRoundTrip(t *testing.T) {
	id := Sum("Commit", []byte("data"))

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("zz")
	assert.Error(t, err)

	_, err = ParseID("abcd")
	assert.Error(t, err)
}

func TestZeroID(t *testing.T) {
	assert.True(t, ZeroID.IsZero())
	assert.False(t, Sum("Commit", nil).IsZero())
}

func TestHasherPure(t *testing.T) {
	a := NewHasher("ContentSnapshot").String("s3://wh/t1/v0.json").Int64(42).ID()
	b := NewHasher("ContentSnapshot").String("s3://wh/t1/v0.json").Int64(42).ID()
	assert.Equal(t, a, b)

	c := NewHasher("ContentSnapshot").String("s3://wh/t1/v0.json").Int64(43).ID()
	assert.NotEqual(t, a, c)

	d := NewHasher("ContentSnapshot").String("s3://wh/t1/v1.json").Int64(42).ID()
	assert.NotEqual(t, a, d)
}

func TestHasherFieldBoundaries(t *testing.T) {
	// Field framing must keep ("ab", "c") distinct from ("a", "bc").
	a := NewHasher("Test").String("ab").String("c").ID()
	b := NewHasher("Test").String("a").String("bc").ID()
	assert.NotEqual(t, a, b)
}

func TestRefIDStable(t *testing.T) {
	assert.Equal(t, RefID("main"), RefID("main"))
	assert.NotEqual(t, RefID("main"), RefID("dev"))
}
