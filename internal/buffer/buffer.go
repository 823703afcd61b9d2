// Package buffer implements the crash-safe FIFO envelope queue the
// scheduler falls back to when the breaker is open or a send fails.
//
// It is backed by a single bbolt file. bbolt only ever appends new keys
// at the tail of a bucket's key space in iteration order, so head-requeue
// (putting a failed send back at the FRONT of the queue) cannot be
// expressed as "insert before the current minimum" with a single naive
// counter. Instead two disjoint uint64 ranges share the bucket:
//
//   - the hi range, assigned by an increasing counter, holds entries from
//     Put;
//   - the lo range, assigned by a decreasing counter, holds entries from
//     Requeue.
//
// Every lo-range key is numerically smaller than every hi-range key, so a
// cursor.First() scan always yields requeued entries before freshly put
// ones. Requeue is only ever called against the single most-recently
// dequeued entry before the next Get (sender.FlushBuffered, run from each
// scheduler tick, gets one entry at a time and requeues-and-stops on
// failure), so a strictly
// decreasing counter is sufficient to preserve relative order across
// repeated requeues.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")

	keyNextHi    = []byte("next_hi_seq")
	keyNextLo    = []byte("next_lo_seq")
	keyBytesUsed = []byte("bytes_used")
)

// hiBase separates the Put (hi) and Requeue (lo) key ranges. Put
// sequence numbers count up from here; requeue sequence numbers count
// down from hiBase-1. A process would need to requeue ~2^62 times
// without ever draining the buffer to exhaust the lo range.
const hiBase uint64 = 1 << 62

// ErrEmpty is returned by Get when the buffer holds no entries.
var ErrEmpty = errors.New("buffer is empty")

// Buffer is a bounded, persistent FIFO. Every method, including eviction
// and compaction inside Put, is serialized by mu; multiple producers may
// call Put concurrently. maxBytes bounds the file's real size on disk, not
// the sum of queued payloads: bbolt never shrinks its file on delete, so
// staying under budget requires compacting the file whenever eviction
// can't keep real disk usage down any other way.
type Buffer struct {
	mu           sync.Mutex
	db           *bbolt.DB
	path         string
	maxBytes     int64
	logger       ports.Logger
	onEviction   func(count int)
	onSizeChange func(count int, bytes int64)
}

// Option customizes Buffer construction.
type Option func(*Buffer)

// WithEvictionHook registers a callback invoked with the number of
// entries discarded whenever Put triggers eviction. Used to drive the
// buffer_evictions_total metric.
func WithEvictionHook(fn func(count int)) Option {
	return func(b *Buffer) { b.onEviction = fn }
}

// WithSizeHook registers a callback invoked after every mutation with the
// buffer's current depth and byte size. Used to drive buffer_depth and
// buffer_bytes gauges.
func WithSizeHook(fn func(count int, bytes int64)) Option {
	return func(b *Buffer) { b.onSizeChange = fn }
}

// Open creates or reopens a buffer at path, bounded at maxBytes.
func Open(path string, maxBytes int64, logger ports.Logger, opts ...Option) (*Buffer, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("buffer: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(keyNextHi) == nil {
			if err := meta.Put(keyNextHi, encodeUint64(hiBase)); err != nil {
				return err
			}
		}
		if meta.Get(keyNextLo) == nil {
			if err := meta.Put(keyNextLo, encodeUint64(hiBase-1)); err != nil {
				return err
			}
		}
		if meta.Get(keyBytesUsed) == nil {
			if err := meta.Put(keyBytesUsed, encodeUint64(0)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("buffer: init %s: %w", path, err)
	}

	b := &Buffer{db: db, path: path, maxBytes: maxBytes, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close releases the underlying file.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Close()
}

// diskSize reports the bbolt file's actual size on disk, which is what
// maxBytes bounds.
func (b *Buffer) diskSize() (int64, error) {
	info, err := os.Stat(b.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Put appends data to the tail of the queue. If the file's real on-disk
// size already exceeds maxBytes, it evicts the oldest entries until the
// queued-bytes estimate drops to 80% of maxBytes, then compacts the file
// so the freed bbolt pages are actually reclaimed rather than merely
// marked free for reuse.
func (b *Buffer) Put(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	diskBefore, err := b.diskSize()
	if err != nil {
		return fmt.Errorf("buffer: stat: %w", err)
	}

	var (
		evicted int
		count   int
	)

	err = b.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		meta := tx.Bucket(bucketMeta)

		used := decodeUint64(meta.Get(keyBytesUsed))

		if diskBefore > b.maxBytes {
			threshold := uint64(float64(b.maxBytes) * 0.8)
			c := entries.Cursor()
			for used > threshold {
				k, v := c.First()
				if k == nil {
					break
				}
				used -= uint64(len(v))
				if err := entries.Delete(k); err != nil {
					return err
				}
				evicted++
			}
		}

		seq := decodeUint64(meta.Get(keyNextHi))
		if err := entries.Put(encodeUint64(seq), data); err != nil {
			return err
		}
		if err := meta.Put(keyNextHi, encodeUint64(seq+1)); err != nil {
			return err
		}
		used += uint64(len(data))
		if err := meta.Put(keyBytesUsed, encodeUint64(used)); err != nil {
			return err
		}

		count = entries.Stats().KeyN
		return nil
	})
	if err != nil {
		return fmt.Errorf("buffer: put: %w", err)
	}

	if evicted > 0 {
		if err := b.compact(); err != nil && b.logger != nil {
			b.logger.Warn("buffer compaction after eviction failed", ports.Err(err))
		}
	}

	bytesOnDisk, err := b.diskSize()
	if err != nil && b.logger != nil {
		b.logger.Warn("buffer stat after put failed", ports.Err(err))
	}

	if evicted > 0 && b.logger != nil {
		b.logger.Warn("buffer evicted oldest entries to stay under max_bytes",
			ports.Int("evicted_count", evicted))
	}
	if evicted > 0 && b.onEviction != nil {
		b.onEviction(evicted)
	}
	if b.onSizeChange != nil {
		b.onSizeChange(count, bytesOnDisk)
	}
	return nil
}

// compact rewrites the bbolt file into a fresh one holding only its live
// keys, then swaps it into place. bbolt's own free pages are never
// returned to the filesystem, so this is the only way eviction actually
// shrinks bytes_on_disk instead of just freeing pages for future reuse.
func (b *Buffer) compact() error {
	tmpPath := b.path + ".compact"

	dst, err := bbolt.Open(tmpPath, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("buffer: open compaction target: %w", err)
	}

	copyErr := b.db.View(func(srcTx *bbolt.Tx) error {
		return dst.Update(func(dstTx *bbolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bbolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(append([]byte(nil), k...), append([]byte(nil), v...))
				})
			})
		})
	})
	if copyErr != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("buffer: compact copy: %w", copyErr)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("buffer: close compaction target: %w", err)
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("buffer: close source for compaction: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("buffer: swap compacted file: %w", err)
	}

	reopened, err := bbolt.Open(b.path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("buffer: reopen after compaction: %w", err)
	}
	b.db = reopened
	return nil
}

// Get removes and returns the oldest entry. It returns ErrEmpty when the
// buffer has nothing queued.
func (b *Buffer) Get() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		data  []byte
		count int
	)

	err := b.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		meta := tx.Bucket(bucketMeta)

		c := entries.Cursor()
		k, v := c.First()
		if k == nil {
			return ErrEmpty
		}
		data = append([]byte(nil), v...)

		used := decodeUint64(meta.Get(keyBytesUsed))
		used -= uint64(len(data))
		if err := meta.Put(keyBytesUsed, encodeUint64(used)); err != nil {
			return err
		}
		if err := entries.Delete(k); err != nil {
			return err
		}

		count = entries.Stats().KeyN
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.onSizeChange != nil {
		bytesOnDisk, statErr := b.diskSize()
		if statErr != nil && b.logger != nil {
			b.logger.Warn("buffer stat after get failed", ports.Err(statErr))
		}
		b.onSizeChange(count, bytesOnDisk)
	}
	return data, nil
}

// Requeue re-enqueues data at the head of the queue. See the package doc
// for why this is safe under the scheduler's single-in-flight usage
// pattern.
func (b *Buffer) Requeue(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var count int

	err := b.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		meta := tx.Bucket(bucketMeta)

		seq := decodeUint64(meta.Get(keyNextLo))
		if err := entries.Put(encodeUint64(seq), data); err != nil {
			return err
		}
		if err := meta.Put(keyNextLo, encodeUint64(seq-1)); err != nil {
			return err
		}

		used := decodeUint64(meta.Get(keyBytesUsed)) + uint64(len(data))
		if err := meta.Put(keyBytesUsed, encodeUint64(used)); err != nil {
			return err
		}

		count = entries.Stats().KeyN
		return nil
	})
	if err != nil {
		return fmt.Errorf("buffer: requeue: %w", err)
	}

	if b.onSizeChange != nil {
		bytesOnDisk, statErr := b.diskSize()
		if statErr != nil && b.logger != nil {
			b.logger.Warn("buffer stat after requeue failed", ports.Err(statErr))
		}
		b.onSizeChange(count, bytesOnDisk)
	}
	return nil
}

// Size reports the current entry count and the bbolt file's real size on
// disk, the quantity maxBytes bounds.
func (b *Buffer) Size() (count int, bytesOnDisk int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	err = b.db.View(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		count = entries.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	bytesOnDisk, err = b.diskSize()
	return count, bytesOnDisk, err
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
