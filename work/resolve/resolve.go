package resolve

import (
	"encoding/base64"
	"errors"
	"path"
	"strings"
	"unicode/utf8"

	"vodgate/work/auth"
	"vodgate/work/logger"
)

// ErrBadID is returned when a video id fails to decode to a usable
// path. Maps to HTTP 400.
var ErrBadID = errors.New("malformed video id")

// ErrForbidden is returned when a decoded path falls outside the
// identity's namespace. Maps to HTTP 403.
var ErrForbidden = errors.New("path outside identity namespace")

// Resolver maps opaque base64 video ids to validated absolute paths on
// the remote content root. It is a pure function of its inputs: it
// performs no I/O and holds no mutable state.
type Resolver struct {
	contentRoot string
}

// NewResolver creates a Resolver rooted at the given remote content
// directory. The root is stored without a trailing slash.
func NewResolver(contentRoot string) *Resolver {
	return &Resolver{contentRoot: strings.TrimSuffix(contentRoot, "/")}
}

// Resolve decodes the video id, enforces the namespace check, and
// returns the absolute remote path.
//
// The id must be base64 (standard or URL-safe alphabet) of a non-empty
// UTF-8 path. The normalized path must contain the identity's
// namespace as a path segment; that is the access-control contract.
// Relative paths are anchored under the content root, and nothing may
// escape it.
func (r *Resolver) Resolve(id auth.Identity, encodedID string) (string, error) {
	decoded, err := decodeID(encodedID)
	if err != nil {
		return "", err
	}

	p := path.Clean(decoded)
	if p == "." || p == "/" {
		return "", ErrBadID
	}

	var abs string
	if strings.HasPrefix(p, "/") {
		// Absolute ids must already live under the content root;
		// anything else is an escape attempt.
		if p != r.contentRoot && !strings.HasPrefix(p, r.contentRoot+"/") {
			return "", ErrForbidden
		}
		abs = p
	} else {
		if strings.HasPrefix(p, "..") {
			return "", ErrForbidden
		}
		abs = r.contentRoot + "/" + p
	}

	if !containsSegment(abs, id.Namespace) {
		logger.Debug("{resolve/resolve - Resolve} Namespace %q not present in resolved path, denying", id.Namespace)
		return "", ErrForbidden
	}

	return abs, nil
}

// decodeID decodes a base64 video id, accepting both the standard and
// URL-safe alphabets with or without padding.
func decodeID(encodedID string) (string, error) {
	if encodedID == "" {
		return "", ErrBadID
	}

	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		raw, err = enc.DecodeString(encodedID)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", ErrBadID
	}

	if len(raw) == 0 || !utf8.Valid(raw) {
		return "", ErrBadID
	}

	decoded := strings.TrimSpace(string(raw))
	if decoded == "" || strings.ContainsRune(decoded, '\x00') {
		return "", ErrBadID
	}
	return decoded, nil
}

// containsSegment reports whether namespace appears as a whole path
// segment of p.
func containsSegment(p, namespace string) bool {
	if namespace == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == namespace {
			return true
		}
	}
	return false
}
