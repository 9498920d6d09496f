package firestore

import (
	"errors"
	"time"

	"github.com/merakistore/api/internal/platform/pagination"
)

// Page tokens encode the (timestamp, document id) cursor of the last item in
// the previous page. They are opaque to clients.

func encodeListToken(ts time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		DocID:     docID,
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if cursor.Timestamp == "" || cursor.DocID == "" {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, cursor.Timestamp)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, cursor.DocID, nil
}
