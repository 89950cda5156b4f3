package core

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_PackUnpack(t *testing.T) {
	k := NewKey("jobs", "queue\x00x", uint64(42))
	got, err := UnpackKey(k.Pack())
	require.NoError(t, err)
	assert.Equal(t, Key{"jobs", "queue\x00x", uint64(42)}, got)
}

func TestKey_OrderMatchesTuples(t *testing.T) {
	keys := []Key{
		NewKey("jobs", "b", uint64(1)),
		NewKey("jobs", "a", uint64(256)),
		NewKey("jobs", "a", uint64(2)),
		NewKey("jobs", "a\x00", uint64(1)),
		NewKey("jobs", "ab", uint64(1)),
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Pack(), keys[j].Pack()) < 0
	})

	want := []string{
		`["jobs", "a", 2]`,
		`["jobs", "a", 256]`,
		`["jobs", "a\x00", 1]`,
		`["jobs", "ab", 1]`,
		`["jobs", "b", 1]`,
	}
	for i, k := range keys {
		assert.Equal(t, want[i], k.String())
	}
}

func TestKey_Range(t *testing.T) {
	prefix := NewKey("jobs", "a")
	start, end := prefix.Range()

	inside := NewKey("jobs", "a", uint64(9)).Pack()
	sibling := NewKey("jobs", "ab", uint64(1)).Pack()

	assert.True(t, bytes.Compare(inside, start) >= 0 && bytes.Compare(inside, end) < 0)
	assert.False(t, bytes.Compare(sibling, start) >= 0 && bytes.Compare(sibling, end) < 0)
	assert.True(t, NewKey("jobs", "a", uint64(9)).HasPrefix(prefix))
	assert.False(t, NewKey("jobs").HasPrefix(prefix))
}

func TestUnpackKey_Malformed(t *testing.T) {
	_, err := UnpackKey([]byte{0x02, 'a'})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = UnpackKey([]byte{0x15, 0x00})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = UnpackKey([]byte{0x7F})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestU64Codec(t *testing.T) {
	v, err := DecodeU64(EncodeU64(1 << 40))
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), v)

	v, err = DecodeU64(nil)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = DecodeU64([]byte{1, 2})
	assert.Error(t, err)
}

func TestAtomicOperation_Builder(t *testing.T) {
	k := NewKey("jobs", "a", uint64(1))
	op := Atomic().
		Check(k, 0).
		Set(k, []byte("v"), ExpireIn(5)).
		Sum(NewKey("counter"), 1).
		Delete(NewKey("old")).
		Enqueue([]byte("t"), -3)

	require.Len(t, op.Checks, 1)
	require.Len(t, op.Mutations, 3)
	assert.Equal(t, MutationSet, op.Mutations[0].Type)
	assert.EqualValues(t, 5, op.Mutations[0].ExpireIn)
	assert.Equal(t, MutationSum, op.Mutations[1].Type)
	assert.Equal(t, MutationDelete, op.Mutations[2].Type)
	require.Len(t, op.Enqueues, 1)
	assert.Zero(t, op.Enqueues[0].Delay)
}
