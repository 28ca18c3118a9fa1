package blobstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// LocalCIDPrefix marks content ids minted by Local.
const LocalCIDPrefix = "b3"

const keyPrefix = "blob/"

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blobstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobstore: zstd decoder initialization failed: " + err.Error())
	}
}

// Local is a content-addressed store on a Pebble database. Ids are the
// BLAKE3 digest of the blob; values are zstd-compressed and prefixed with
// the uncompressed length.
type Local struct {
	db     *pebble.DB
	logger *zap.Logger
}

// OpenLocal opens or creates the store at path.
func OpenLocal(path string, logger *zap.Logger) (*Local, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        pebble.NewCache(16 << 20),
		MemTableSize: 8 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &Local{db: db, logger: logger}, nil
}

// LocalCID returns the content id Local assigns to data.
func LocalCID(data []byte) string {
	sum := blake3.Sum256(data)
	return LocalCIDPrefix + hex.EncodeToString(sum[:])
}

// Put stores data. Storing the same bytes twice is a no-op.
func (l *Local) Put(_ context.Context, name string, data []byte) (string, error) {
	cid := LocalCID(data)
	value := make([]byte, binary.MaxVarintLen64, binary.MaxVarintLen64+len(data)/2)
	n := binary.PutUvarint(value, uint64(len(data)))
	value = value[:n]
	if len(data) > 0 {
		value = zstdEncoder.EncodeAll(data, value)
	}

	if err := l.db.Set(key(cid), value, pebble.Sync); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	l.logger.Debug("blob stored locally",
		zap.String("name", name),
		zap.String("cid", cid),
		zap.Int("bytes", len(data)),
		zap.Int("stored", len(value)),
	)
	return cid, nil
}

// Get returns the blob bytes for cid.
func (l *Local) Get(_ context.Context, cid string) (any, error) {
	if !strings.HasPrefix(cid, LocalCIDPrefix) {
		return nil, fmt.Errorf("%w: %s is not a local content id", ErrNotFound, cid)
	}
	value, closer, err := l.db.Get(key(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotYetAvailable, cid, err)
	}
	defer closer.Close()

	size, n := binary.Uvarint(value)
	if n <= 0 {
		return nil, fmt.Errorf("blob %s: corrupt length header", cid)
	}
	if size == 0 {
		return []byte{}, nil
	}
	data, err := zstdDecoder.DecodeAll(value[n:], make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("blob %s: zstd decompress: %w", cid, err)
	}
	if uint64(len(data)) != size {
		return nil, fmt.Errorf("blob %s: got %d bytes, expected %d", cid, len(data), size)
	}
	if LocalCID(data) != cid {
		return nil, fmt.Errorf("blob %s: content does not match its id", cid)
	}
	return data, nil
}

// Close flushes and closes the database.
func (l *Local) Close() error {
	return l.db.Close()
}

func key(cid string) []byte {
	return []byte(keyPrefix + cid)
}
