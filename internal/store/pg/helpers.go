package pg

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

func itoa(n int) string { return strconv.Itoa(n) }

// jsonOrNull marshals v to JSON, mapping empty values to SQL NULL.
func jsonOrNull(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(t) == 0 {
			return nil
		}
		return []byte(t)
	case []string:
		if len(t) == 0 {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nilTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nilUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

// scanNullTime converts sql.NullTime to *time.Time.
func scanNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
