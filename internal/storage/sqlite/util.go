package sqlite

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// newID returns a fresh canonical UUID string.
func newID() string {
	return uuid.NewString()
}

// decToDB renders a decimal for storage, rounded to 4 places (intermediate
// math precision; outputs round to 2 at the edges).
func decToDB(d decimal.Decimal) string {
	return d.Round(4).String()
}

// decFromDB parses a stored decimal. Empty means zero.
func decFromDB(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// timePtr converts a NullTime to *time.Time.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullTime converts a *time.Time to a NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// toJSON marshals v, returning "[]" on failure so NOT NULL JSON columns
// stay well-formed.
func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// fromJSON unmarshals into out, ignoring empty input.
func fromJSON(s string, out interface{}) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

// qualify prefixes every column in a comma-separated list with a table
// alias, for joined selects that reuse the shared column constants.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
