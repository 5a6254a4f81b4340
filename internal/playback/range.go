package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// ByteRange is an inclusive span of bytes.
type ByteRange struct {
	First int64
	Last  int64
}

func (r ByteRange) Len() int64 {
	return r.Last - r.First + 1
}

// ContentRange formats the Content-Range header value for a file of total bytes.
func (r ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.First, r.Last, total)
}

// ParseByteRange parses a Range header against a file of size bytes. ok is
// false when no range was requested. Only the first span of a multi-range
// request is honoured.
func ParseByteRange(header string, size int64) (r ByteRange, ok bool, err error) {
	if header == "" {
		return ByteRange{}, false, nil
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return ByteRange{}, false, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = strings.TrimSpace(first)
	}

	from, to, found := strings.Cut(spec, "-")
	if !found {
		return ByteRange{}, false, ErrInvalidRange
	}

	switch {
	case from == "":
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false, ErrInvalidRange
		}
		r = ByteRange{First: max(size-n, 0), Last: size - 1}
	default:
		first, err := strconv.ParseInt(from, 10, 64)
		if err != nil || first < 0 {
			return ByteRange{}, false, ErrInvalidRange
		}
		last := size - 1
		if to != "" {
			if last, err = strconv.ParseInt(to, 10, 64); err != nil {
				return ByteRange{}, false, ErrInvalidRange
			}
		}
		r = ByteRange{First: first, Last: last}
	}

	if r.First > r.Last || r.First >= size {
		return ByteRange{}, false, ErrUnsatisfiable
	}
	r.Last = min(r.Last, size-1)
	return r, true, nil
}
