package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketName  = "checkpoints"
	openTimeout = 1 * time.Second
)

// boltLog stores each checkpoint in its own committed transaction.
// Key = index (8 bytes, big-endian), value = mark time (unix nanos, 8 bytes).
type boltLog struct {
	db *bolt.DB
}

func createBoltLog(path string) (*boltLog, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove previous checkpoint log: %w", err)
	}

	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint log (locked by another instance?): %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint bucket: %w", err)
	}
	if err := syncDir(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &boltLog{db: db}, nil
}

func (l *boltLog) Append(idx uint) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket %q missing", bucketName)
		}
		return b.Put(encodeIndex(idx), encodeIndex(uint(time.Now().UnixNano())))
	})
	if err != nil {
		return fmt.Errorf("append checkpoint %d: %w", idx, err)
	}
	return nil
}

func (l *boltLog) Close() error {
	return l.db.Close()
}

// replayBolt reads indices in key order. A missing file is an empty log.
func replayBolt(path string) ([]uint, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	db, err := bolt.Open(path, 0o644, &bolt.Options{ReadOnly: true, Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	defer func() { _ = db.Close() }()

	var indices []uint
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if len(k) != 8 {
				return fmt.Errorf("%w: key length %d", ErrCorruptLog, len(k))
			}
			indices = append(indices, uint(binary.BigEndian.Uint64(k)))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read checkpoint log: %w", err)
	}
	return indices, nil
}

func encodeIndex(v uint) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}
