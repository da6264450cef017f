package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/MrEthical07/goMembership/repository"
)

const recordFormatV1 = 1

// ErrUnsupportedFormat is returned when a stored blob has an unknown format byte.
var ErrUnsupportedFormat = errors.New("unsupported session record format")

type recordHeader struct {
	Flags    uint8
	Locked   uint8
	LockID   int64
	Created  int64
	Expires  int64
	LockDate int64
	Timeout  int64
	Items    uint32
}

// Encode serializes the state of rec. ID, ApplicationName and Version live
// in the Redis key and hash fields and are not part of the blob.
func Encode(rec *repository.SessionRecord) ([]byte, error) {
	if uint64(len(rec.Items)) > math.MaxUint32 {
		return nil, errors.New("too many session items")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordFormatV1)

	h := recordHeader{
		Flags:    uint8(rec.Flags),
		LockID:   int64(rec.LockID),
		Created:  unixNano(rec.CreationDate),
		Expires:  unixNano(rec.ExpireDate),
		LockDate: unixNano(rec.LockDate),
		Timeout:  int64(rec.Timeout),
		Items:    uint32(len(rec.Items)),
	}
	if rec.IsLocked {
		h.Locked = 1
	}
	if err := binary.Write(&buf, binary.BigEndian, &h); err != nil {
		return nil, err
	}

	for _, k := range slices.Sorted(maps.Keys(rec.Items)) {
		v := rec.Items[k]
		if len(k) > math.MaxUint16 {
			return nil, errors.New("session item key too long")
		}
		if uint64(len(v)) > math.MaxUint32 {
			return nil, errors.New("session item value too long")
		}
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(k)))
		buf.WriteString(k)
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(v)))
		buf.WriteString(v)
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode into a record without identity.
func Decode(data []byte) (*repository.SessionRecord, error) {
	reader := bytes.NewReader(data)

	format, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if format != recordFormatV1 {
		return nil, ErrUnsupportedFormat
	}

	var h recordHeader
	if err := binary.Read(reader, binary.BigEndian, &h); err != nil {
		return nil, err
	}
	// Each item needs at least six length bytes.
	if uint64(h.Items)*6 > uint64(reader.Len()) {
		return nil, io.ErrUnexpectedEOF
	}

	rec := &repository.SessionRecord{
		CreationDate: fromUnixNano(h.Created),
		ExpireDate:   fromUnixNano(h.Expires),
		LockDate:     fromUnixNano(h.LockDate),
		LockID:       int(h.LockID),
		IsLocked:     h.Locked == 1,
		Timeout:      time.Duration(h.Timeout),
		Flags:        repository.SessionFlags(h.Flags),
		Items:        make(map[string]string, h.Items),
	}

	for i := uint32(0); i < h.Items; i++ {
		var kl uint16
		if err := binary.Read(reader, binary.BigEndian, &kl); err != nil {
			return nil, err
		}
		k, err := readString(reader, int(kl))
		if err != nil {
			return nil, err
		}
		var vl uint32
		if err := binary.Read(reader, binary.BigEndian, &vl); err != nil {
			return nil, err
		}
		v, err := readString(reader, int(vl))
		if err != nil {
			return nil, err
		}
		rec.Items[k] = v
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after session record")
	}
	return rec, nil
}

func readString(r *bytes.Reader, n int) (string, error) {
	if n > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
