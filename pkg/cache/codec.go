package cache

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/teamtrack/teamtrack/pkg/pool"
)

// packValue packs storedTime, expire and the JSON payload into one byte
// slice. The returned Buffer must be released by the caller.
func packValue(storedTime, expire time.Time, payload []byte) *pool.Buffer {
	buf := pool.GetBuf(8 + 8 + len(payload))
	b := buf.Bytes()
	binary.BigEndian.PutUint64(b[:8], uint64(storedTime.Unix()))
	binary.BigEndian.PutUint64(b[8:16], uint64(expire.Unix()))
	copy(b[16:], payload)
	return buf
}

func unpackValue(b []byte) (storedTime, expire time.Time, payload []byte, err error) {
	if len(b) < 16 {
		return time.Time{}, time.Time{}, nil, errors.New("value is too short")
	}
	storedTime = time.Unix(int64(binary.BigEndian.Uint64(b[:8])), 0)
	expire = time.Unix(int64(binary.BigEndian.Uint64(b[8:16])), 0)
	return storedTime, expire, b[16:], nil
}
