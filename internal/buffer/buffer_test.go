package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBuffer(t *testing.T, maxBytes int64, opts ...Option) *Buffer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffer.bolt")
	buf, err := Open(path, maxBytes, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

func TestBuffer_PutGetFIFOOrder(t *testing.T) {
	buf := openTestBuffer(t, 1<<20)

	require.NoError(t, buf.Put([]byte("a")))
	require.NoError(t, buf.Put([]byte("b")))
	require.NoError(t, buf.Put([]byte("c")))

	first, err := buf.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", string(first))

	second, err := buf.Get()
	require.NoError(t, err)
	assert.Equal(t, "b", string(second))
}

func TestBuffer_GetOnEmptyReturnsErrEmpty(t *testing.T) {
	buf := openTestBuffer(t, 1<<20)

	_, err := buf.Get()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestBuffer_RequeuePutsEntryBackAtHead(t *testing.T) {
	buf := openTestBuffer(t, 1<<20)

	require.NoError(t, buf.Put([]byte("a")))
	require.NoError(t, buf.Put([]byte("b")))

	first, err := buf.Get()
	require.NoError(t, err)
	require.Equal(t, "a", string(first))

	require.NoError(t, buf.Requeue(first))

	replayed, err := buf.Get()
	require.NoError(t, err)
	assert.Equal(t, "a", string(replayed))

	next, err := buf.Get()
	require.NoError(t, err)
	assert.Equal(t, "b", string(next))
}

func TestBuffer_RequeueRepeatedlyPreservesOrder(t *testing.T) {
	buf := openTestBuffer(t, 1<<20)
	require.NoError(t, buf.Put([]byte("a")))

	entry, err := buf.Get()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Requeue(entry))
		entry, err = buf.Get()
		require.NoError(t, err)
		assert.Equal(t, "a", string(entry))
	}
}

func TestBuffer_EvictsOldestWhenOverCapacity(t *testing.T) {
	var evictedTotal int
	const maxBytes = 64 * 1024
	buf := openTestBuffer(t, maxBytes, WithEvictionHook(func(count int) { evictedTotal += count }))

	entry := make([]byte, 2048)
	for i := range entry {
		entry[i] = byte(i)
	}
	const puts = 100
	for i := 0; i < puts; i++ {
		require.NoError(t, buf.Put(entry))
	}

	count, bytes, err := buf.Size()
	require.NoError(t, err)
	assert.Greater(t, evictedTotal, 0)
	assert.Less(t, count, puts)
	// Compaction reclaims pages bbolt would otherwise only mark free for
	// reuse, so real on-disk size settles well under the full
	// puts*len(entry) that was ever written, even though it isn't pinned
	// exactly at maxBytes.
	assert.Less(t, bytes, int64(puts*len(entry)))
}

func TestBuffer_SizeTracksEntryCount(t *testing.T) {
	buf := openTestBuffer(t, 1<<20)

	require.NoError(t, buf.Put([]byte("hello")))
	require.NoError(t, buf.Put([]byte("world")))

	count, bytesAfterPut, err := buf.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Greater(t, bytesAfterPut, int64(0))

	_, err = buf.Get()
	require.NoError(t, err)

	count, bytesAfterGet, err := buf.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	// bbolt never shrinks its file on delete outside of compaction, so the
	// real on-disk size can only hold steady or grow here, never shrink.
	assert.GreaterOrEqual(t, bytesAfterGet, bytesAfterPut)
}

func TestBuffer_SizeHookFiresOnMutation(t *testing.T) {
	var lastCount int
	var lastBytes int64
	buf := openTestBuffer(t, 1<<20, WithSizeHook(func(count int, bytes int64) {
		lastCount = count
		lastBytes = bytes
	}))

	require.NoError(t, buf.Put([]byte("xyz")))
	assert.Equal(t, 1, lastCount)
	assert.Greater(t, lastBytes, int64(0))
}
