package handlers

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/cryptvault/internal/repository"
)

var errBadCursor = errors.New("некорректный cursor")

// encodeCursor упаковывает границу страницы в непрозрачную строку.
func encodeCursor(c *repository.Cursor) string {
	if c == nil {
		return ""
	}
	raw := c.At.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor разбирает cursor из запроса. Пустая строка — первая страница.
func decodeCursor(s string) (*repository.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errBadCursor
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errBadCursor
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, errBadCursor
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, errBadCursor
	}
	return &repository.Cursor{At: t, ID: id}, nil
}
