package rowcodec

import (
	"bytes"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Row is a raw column → value mapping as produced by a row store.
type Row = map[string]any

// Normalize widens numeric values so rows coming from different drivers
// compare and encode identically. Integers become int64 (uint64 only when
// the value does not fit), floats become float64 and byte slices are copied.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUint(x)
	case float32:
		return float64(x)
	case []byte:
		return append([]byte(nil), x...)
	case map[string]any:
		return NormalizeRow(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	default:
		return x
	}
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// NormalizeRow returns a normalized copy of row. A nil row stays nil.
func NormalizeRow(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = Normalize(v)
	}
	return out
}

// Canonical encodes row with sorted keys so equal rows produce equal bytes.
func Canonical(row Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(NormalizeRow(row)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reverses Canonical.
func Decode(data []byte) (Row, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var row Row
	if err := msgpack.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// Clone returns a deep copy of row that shares no mutable state with it.
func Clone(row Row) Row {
	if row == nil {
		return nil
	}
	data, err := msgpack.Marshal(NormalizeRow(row))
	if err == nil {
		var out Row
		if err = msgpack.Unmarshal(data, &out); err == nil {
			return out
		}
	}
	// values msgpack cannot carry are copied shallowly
	return NormalizeRow(row)
}

// CloneRows deep copies every row in rows.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Clone(r)
	}
	return out
}

// Equal reports whether a and b hold the same value after normalization.
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// Columns returns the sorted column names of row.
func Columns(row Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
