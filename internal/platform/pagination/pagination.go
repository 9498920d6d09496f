// Package pagination parses the pageSize/pageToken query parameters shared by
// every list endpoint and owns the opaque cursor token format the Firestore
// repositories emit.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize so a single request cannot scan an
	// unbounded slice of a collection.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params holds the values a list handler passes down to its service.
type Params struct {
	PageSize  int
	PageToken string
}

// Options set the per-endpoint page size bounds.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest reads pageSize and pageToken from the request query. The token
// is validated for shape here so a garbled cursor fails fast with a 400
// instead of surfacing as a storage error deep in the repository.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	values := r.URL.Query()

	size, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: size}

	token := strings.TrimSpace(values.Get("pageToken"))
	if token != "" {
		if _, err := DecodeToken(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	max := opts.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	fallback := opts.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	if fallback > max {
		fallback = max
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if size > max {
		size = max
	}
	return size, nil
}

// Cursor marks the last document of the previous page. Timestamp carries the
// ordering field in RFC 3339 form and DocID breaks ties between documents
// sharing it.
type Cursor struct {
	Timestamp string `json:"ts,omitempty"`
	DocID     string `json:"id,omitempty"`
}

// EncodeToken serialises the cursor into a URL-safe page token. An empty
// cursor encodes to the empty token, meaning the first page.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.Timestamp == "" && cursor.DocID == "" {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken reverses EncodeToken. The empty token decodes to the empty
// cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
