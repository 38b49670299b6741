// Package canonical produces deterministic payload encodings for request signing.
package canonical

import (
	"bytes"
	"reflect"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/coachpo/rmpay/errs"
)

// Marshal encodes the payload as JSON text with every mapping's keys sorted
// lexicographically, depth first. Identical input always yields identical
// bytes regardless of input key order. Forward slashes and non-ASCII text are
// left unescaped; the HTML-special characters &, <, > and the apostrophe are
// emitted as \u00xx escapes so both sides of the signature canonicalize text
// identically. An empty payload encodes to no bytes at all.
func Marshal(payload map[string]any) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := encodeMap(&buf, reflect.ValueOf(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		return encodeMap(buf, rv)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return encodeScalar(buf, rv.Interface())
		}
		return encodeSequence(buf, rv)
	default:
		return encodeScalar(buf, rv.Interface())
	}
}

func encodeMap(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return errs.New("canonical.marshal", errs.CodeInvalid,
			errs.WithMessage("mapping keys must be strings"))
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeScalar(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeSequence(buf *bytes.Buffer, rv reflect.Value) error {
	buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

var apostropheEscape = []byte("\\u0027")

func encodeScalar(buf *bytes.Buffer, v any) error {
	// Default marshalling hex-escapes &, < and >; the apostrophe needs the
	// extra rewrite. It can only occur inside string literals, so a byte
	// replacement is safe.
	b, err := json.Marshal(v)
	if err != nil {
		return errs.New("canonical.marshal", errs.CodeInvalid,
			errs.WithMessage("unencodable payload value"), errs.WithCause(err))
	}
	buf.Write(bytes.ReplaceAll(b, []byte("'"), apostropheEscape))
	return nil
}
