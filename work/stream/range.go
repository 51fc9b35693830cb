package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsatisfiable is returned when a Range header names the bytes
// unit but none of its ranges fall inside the file. The response must
// be 416 with a Content-Range carrying the actual size.
var ErrUnsatisfiable = errors.New("requested range not satisfiable")

// Window is a resolved byte range within a file of known size. Start
// is the absolute offset of the first byte, Length the number of
// bytes to deliver.
type Window struct {
	Start  int64
	Length int64
}

// End returns the absolute offset of the last byte in the window.
func (w Window) End() int64 {
	return w.Start + w.Length - 1
}

// ContentRange formats the Content-Range value for a 206 response.
func (w Window) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", w.Start, w.End(), size)
}

// ParseRange resolves a Range header against a file size. A nil
// Window with a nil error means the whole file should be served: no
// header, a non-bytes unit, or a syntactically broken header are all
// ignored rather than rejected. When the header names the bytes unit,
// the first satisfiable range wins and the rest are dropped; if none
// is satisfiable the result is ErrUnsatisfiable.
func ParseRange(header string, size int64) (*Window, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, nil
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		w, valid := parseOneRange(part, size)
		if valid {
			return w, nil
		}
	}
	return nil, ErrUnsatisfiable
}

// parseOneRange resolves a single range spec of the forms
// "start-end", "start-" or "-suffix".
func parseOneRange(part string, size int64) (*Window, bool) {
	dash := strings.IndexByte(part, '-')
	if dash < 0 {
		return nil, false
	}
	startStr, endStr := part[:dash], part[dash+1:]

	// Suffix form: the last N bytes of the file.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, false
		}
		if n > size {
			n = size
		}
		return &Window{Start: size - n, Length: n}, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return nil, false
	}

	// Open-ended form: from start to the end of the file.
	if endStr == "" {
		return &Window{Start: start, Length: size - start}, true
	}

	// An end at or past EOF invalidates the candidate outright; it is
	// not clamped to the last byte.
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start || end >= size {
		return nil, false
	}
	return &Window{Start: start, Length: end - start + 1}, true
}
