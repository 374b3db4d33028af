package listing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/store"
)

// cursorToken is the opaque wire form of a store.Cursor.
type cursorToken struct {
	CreatedAt string `json:"t"`
	ID        string `json:"id"`
}

// EncodeCursor renders c as an opaque url-safe token.
func EncodeCursor(c store.Cursor) string {
	raw, _ := json.Marshal(cursorToken{
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339Nano),
		ID:        c.ID,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token is the
// first page.
func DecodeCursor(token string) (*store.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	var tok cursorToken
	if err := json.Unmarshal(raw, &tok); err != nil || tok.ID == "" {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	at, err := time.Parse(time.RFC3339Nano, tok.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor time", domain.ErrValidation)
	}
	return &store.Cursor{CreatedAt: at.UTC(), ID: tok.ID}, nil
}
