// Package oid defines object identities for the object graph.
//
// An ID is a comparable value made of an entity tag and either a permanent
// key (key column → value) or a temporary token handed out before the row
// store assigned the key. IDs can be used directly as map keys: permanent
// keys are stored in a canonical msgpack encoding, so int(1) and int64(1)
// identify the same row.
package oid

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-object-graph/internal/rowcodec"
)

// ID identifies one domain object.
type ID struct {
	entity string
	temp   string
	key    string
}

// New builds a permanent ID from key column values.
func New(entity string, key map[string]any) (ID, error) {
	if entity == "" {
		return ID{}, goerrors.New("object id requires an entity", goerrors.CategoryBadInput).
			WithTextCode("INVALID_OBJECT_ID")
	}
	if len(key) == 0 {
		return ID{}, goerrors.New("permanent object id requires key values", goerrors.CategoryBadInput).
			WithTextCode("INVALID_OBJECT_ID").
			WithMetadata(map[string]any{"entity": entity})
	}
	for col, v := range key {
		if v == nil {
			return ID{}, goerrors.New("key column "+col+" is null", goerrors.CategoryBadInput).
				WithTextCode("INVALID_OBJECT_ID").
				WithMetadata(map[string]any{"entity": entity})
		}
	}
	data, err := rowcodec.Canonical(key)
	if err != nil {
		return ID{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "encode object id key")
	}
	return ID{entity: entity, key: string(data)}, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(entity string, key map[string]any) ID {
	id, err := New(entity, key)
	if err != nil {
		panic(err)
	}
	return id
}

// Single builds a permanent ID for a single-column key.
func Single(entity, column string, value any) ID {
	return MustNew(entity, map[string]any{column: value})
}

// NewTemporary returns a process-unique temporary ID.
func NewTemporary(entity string) ID {
	return ID{entity: entity, temp: uuid.NewString()}
}

// Entity returns the entity tag.
func (id ID) Entity() string { return id.entity }

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool { return id == ID{} }

// IsTemporary reports whether id still waits for a permanent key.
func (id ID) IsTemporary() bool { return id.temp != "" }

// Token returns the temporary token, empty for permanent IDs.
func (id ID) Token() string { return id.temp }

// Values returns a copy of the permanent key values, nil for temporary IDs.
func (id ID) Values() map[string]any {
	if id.key == "" {
		return nil
	}
	row, err := rowcodec.Decode([]byte(id.key))
	if err != nil {
		return nil
	}
	return row
}

// Value returns a single key column value.
func (id ID) Value(column string) (any, bool) {
	v, ok := id.Values()[column]
	return v, ok
}

// Hash returns a stable 64 bit hash of id.
func (id ID) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(id.entity)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(id.temp)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(id.key)
	return d.Sum64()
}

func (id ID) String() string {
	if id.IsZero() {
		return "<nil>"
	}
	if id.IsTemporary() {
		return fmt.Sprintf("%s<temp:%s>", id.entity, id.temp)
	}
	values := id.Values()
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s=%v", c, values[c])
	}
	return fmt.Sprintf("%s{%s}", id.entity, strings.Join(parts, ","))
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (id ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeMulti(id.entity, id.temp, hex.EncodeToString([]byte(id.key)))
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (id *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	var entity, temp, key string
	if err := dec.DecodeMulti(&entity, &temp, &key); err != nil {
		return err
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return err
	}
	*id = ID{entity: entity, temp: temp, key: string(raw)}
	return nil
}

var (
	_ msgpack.CustomEncoder = ID{}
	_ msgpack.CustomDecoder = (*ID)(nil)
)
