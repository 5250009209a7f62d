package cache

import (
	"encoding/hex"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/goliatone/go-object-graph/internal/rowcodec"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// Keyer lets a value supply its own stable key fragment.
type Keyer interface {
	CacheKey() string
}

// defaultKeySerializer renders args into a canonical text form. When hashed
// is set the text is replaced by its xxhash digest, which keeps keys short
// and bounded no matter how large a filter grows.
type defaultKeySerializer struct {
	hashed bool
}

// NewDefaultKeySerializer returns a serializer producing
// "<namespace>::<hex digest>" keys.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{hashed: true}
}

// NewPlainKeySerializer returns a serializer producing readable
// "<namespace>::<arg>::<arg>" keys. Useful when debugging cache contents.
func NewPlainKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds a cache key for args under namespace. The namespace is
// always kept verbatim as the key prefix so DeleteByPrefix can target it.
func (s *defaultKeySerializer) SerializeKey(namespace string, args ...any) string {
	if len(args) == 0 {
		return namespace
	}

	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteString(KeySeparator)
		}
		writeValue(&b, reflect.ValueOf(arg))
	}

	if !s.hashed {
		return namespace + KeySeparator + b.String()
	}
	return namespace + KeySeparator + strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// Prefix returns the key prefix shared by every key serialized under namespace.
func Prefix(namespace string) string {
	return namespace + KeySeparator
}

var (
	keyerType = reflect.TypeOf((*Keyer)(nil)).Elem()
	timeType  = reflect.TypeOf(time.Time{})
)

func writeValue(b *strings.Builder, rv reflect.Value) {
	if !rv.IsValid() {
		b.WriteString("nil")
		return
	}

	if (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) && rv.IsNil() {
		b.WriteString("nil")
		return
	}

	if rv.Type().Implements(keyerType) && rv.CanInterface() {
		b.WriteString("k:")
		b.WriteString(strconv.Quote(rv.Interface().(Keyer).CacheKey()))
		return
	}

	if rv.Type() == timeType {
		b.WriteString("t:")
		b.WriteString(rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano))
		return
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		writeValue(b, rv.Elem())

	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		// int(1) and int64(1) must share a key
		switch n := rowcodec.Normalize(rv.Interface()).(type) {
		case int64:
			b.WriteString(strconv.FormatInt(n, 10))
		case uint64:
			b.WriteString(strconv.FormatUint(n, 10))
		}

	case reflect.Float32, reflect.Float64:
		b.WriteString(strconv.FormatFloat(rv.Float(), 'g', -1, 64))

	case reflect.String:
		b.WriteString(strconv.Quote(rv.String()))

	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b.WriteString("b:")
			b.WriteString(hex.EncodeToString(rv.Bytes()))
			return
		}
		if rv.IsNil() {
			b.WriteString("[]")
			return
		}
		writeList(b, rv)

	case reflect.Array:
		writeList(b, rv)

	case reflect.Map:
		writeMap(b, rv)

	case reflect.Struct:
		writeStruct(b, rv)

	default:
		// funcs and channels have no stable identity across processes
		b.WriteString("?")
		b.WriteString(rv.Type().String())
	}
}

func writeList(b *strings.Builder, rv reflect.Value) {
	b.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		writeValue(b, rv.Index(i))
	}
	b.WriteByte(']')
}

func writeMap(b *strings.Builder, rv reflect.Value) {
	type pair struct {
		key   string
		value reflect.Value
	}

	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var kb strings.Builder
		writeValue(&kb, iter.Key())
		pairs = append(pairs, pair{key: kb.String(), value: iter.Value()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		writeValue(b, p.value)
	}
	b.WriteByte('}')
}

func writeStruct(b *strings.Builder, rv reflect.Value) {
	rt := rv.Type()
	b.WriteString(rt.Name())
	b.WriteByte('(')
	first := true
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(field.Name)
		b.WriteByte(':')
		writeValue(b, rv.Field(i))
	}
	b.WriteByte(')')
}
