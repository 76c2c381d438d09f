package boltstore

import (
	"encoding/binary"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// Bucket names.
var (
	bucketMeta     = []byte("meta")
	bucketObjects  = []byte("objects")
	bucketChannels = []byte("channels")
)

// Meta keys.
var (
	keySchema = []byte("schema")
)

// schemaVersion is bumped whenever the encoded object layout changes.
const schemaVersion = 1

// refToKey converts a DBRef to an 8-byte big-endian key, offset so that
// negative refs still sort before zero.
func refToKey(ref gamedb.DBRef) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(ref)+1<<32))
	return buf
}

func keyToRef(b []byte) gamedb.DBRef {
	return gamedb.DBRef(int64(binary.BigEndian.Uint64(b)) - 1<<32)
}

func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func keyToInt(b []byte) int {
	if len(b) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(b))
}

func channelKey(name string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(name)))
}
