package database

import (
	"fmt"
	"maps"
	"strconv"
)

// Row is one result row keyed by column name.
type Row map[string]any

// String returns the column as a string ("" when NULL or missing).
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Float64 returns the column as a float64. NULL and missing columns are errors.
func (r Row) Float64(col string) (float64, error) {
	v, ok := r[col]
	if !ok {
		return 0, fmt.Errorf("column %q not in row", col)
	}
	switch n := v.(type) {
	case nil:
		return 0, fmt.Errorf("column %q is NULL", col)
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", col, err)
		}
		return f, nil
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", col, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("column %q has non-numeric type %T", col, v)
	}
}

// Clone returns a shallow copy that can be mutated without touching r.
func (r Row) Clone() Row {
	return maps.Clone(r)
}
