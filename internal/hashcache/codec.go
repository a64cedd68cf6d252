package hashcache

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// entryMUS encodes an Entry in MUS format. Times are Unix nanoseconds and
// the zero time round-trips as zero.
var entryMUS = entrySer{}

type entrySer struct{}

func (entrySer) Marshal(e Entry, bs []byte) (n int) {
	n = ord.String.Marshal(e.Hash, bs)
	n += varint.Int64.Marshal(e.Size, bs[n:])
	n += varint.Int64.Marshal(unixNano(e.ModTime), bs[n:])
	n += varint.Int64.Marshal(unixNano(e.IndexedAt), bs[n:])
	n += ord.String.Marshal(e.FailedHash, bs[n:])
	n += varint.Int.Marshal(e.Failures, bs[n:])
	return
}

func (entrySer) Unmarshal(bs []byte) (e Entry, n int, err error) {
	var n1 int
	var ts int64

	e.Hash, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	e.Size, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	ts, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	e.ModTime = fromUnixNano(ts)
	ts, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	e.IndexedAt = fromUnixNano(ts)
	e.FailedHash, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	e.Failures, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	return
}

func (entrySer) Size(e Entry) (size int) {
	size = ord.String.Size(e.Hash)
	size += varint.Int64.Size(e.Size)
	size += varint.Int64.Size(unixNano(e.ModTime))
	size += varint.Int64.Size(unixNano(e.IndexedAt))
	size += ord.String.Size(e.FailedHash)
	size += varint.Int.Size(e.Failures)
	return
}

func marshalEntry(e Entry) []byte {
	buf := make([]byte, entryMUS.Size(e))
	entryMUS.Marshal(e, buf)
	return buf
}

func unmarshalEntry(data []byte) (Entry, error) {
	e, _, err := entryMUS.Unmarshal(data)
	return e, err
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
