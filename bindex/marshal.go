package bindex

import (
	"fmt"
	"unicode/utf8"
)

// marshalObject is a class instance decoded from an 'o' tag: a class name
// plus its instance variables keyed by their symbol name (including the
// leading '@').
type marshalObject struct {
	class  string
	fields map[string]any
}

// marshalUserMarshal is a value decoded from a 'U' tag: an object whose
// class supplies marshal_dump/marshal_load, carrying whatever value its
// marshal_dump returned. Gem::Version marshals this way, dumping itself
// as a one-element array holding its version string.
type marshalUserMarshal struct {
	class string
	value any
}

// marshalUserDefined is a value decoded from a 'u' tag: a class name plus
// the raw bytes its _dump method produced.
type marshalUserDefined struct {
	class string
	data  []byte
}

// decoder walks a Ruby Marshal 4.8 byte stream far enough to recover the
// plain values (strings, arrays, symbols, objects) this format's index
// entries are built from. It does not implement the full format: any tag
// readValue does not list (bignums and floats among them) fails the decode
// with a [DecodeError] rather than being skipped.
type decoder struct {
	data    []byte
	pos     int
	symbols []string
	objects []any
}

func newDecoder(data []byte) *decoder {
	return &decoder{data: data}
}

func (d *decoder) errf(format string, args ...any) error {
	return &DecodeError{Offset: d.pos, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.errf("unexpected end of stream")
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, d.errf("unexpected end of stream reading %d bytes", n)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// readFixnum decodes Ruby Marshal's variable-length signed integer
// encoding.
func (d *decoder) readFixnum() (int64, error) {
	c, err := d.readByte()
	if err != nil {
		return 0, err
	}
	sc := int8(c)
	switch {
	case sc == 0:
		return 0, nil
	case sc > 0 && sc < 5:
		b, err := d.readBytes(int(sc))
		if err != nil {
			return 0, err
		}
		var n int64
		for i, v := range b {
			n |= int64(v) << (8 * uint(i))
		}
		return n, nil
	case sc > 0:
		return int64(sc) - 5, nil
	case sc < 0 && sc > -5:
		n := int(-sc)
		b, err := d.readBytes(n)
		if err != nil {
			return 0, err
		}
		var v int64
		for i, bb := range b {
			v |= int64(bb) << (8 * uint(i))
		}
		v -= int64(1) << (8 * uint(n))
		return v, nil
	default:
		return int64(sc) + 5, nil
	}
}

func (d *decoder) readRawString(n int64) (string, error) {
	b, err := d.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) registerObject(v any) any {
	d.objects = append(d.objects, v)
	return v
}

func (d *decoder) registerSymbol(s string) string {
	d.symbols = append(d.symbols, s)
	return s
}

// readSymbolValue reads a value known to be a symbol name, following
// symbol links ';' transparently. Used for class names and ivar names.
func (d *decoder) readSymbolValue() (string, error) {
	v, err := d.readValue()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", d.errf("expected symbol, got %T", v)
	}
	return s, nil
}

// readValue decodes one Marshal value, returning one of: nil, bool,
// int64, string (both String and Symbol instances), []any, map[string]any,
// *marshalObject, *marshalUserMarshal, *marshalUserDefined.
func (d *decoder) readValue() (any, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case '0':
		return nil, nil
	case 'T':
		return true, nil
	case 'F':
		return false, nil
	case 'i':
		return d.readFixnum()
	case ':':
		n, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		s, err := d.readRawString(n)
		if err != nil {
			return nil, err
		}
		return d.registerSymbol(s), nil
	case ';':
		idx, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		if int(idx) < 0 || int(idx) >= len(d.symbols) {
			return nil, d.errf("symbol link %d out of range", idx)
		}
		return d.symbols[idx], nil
	case '@':
		idx, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		if int(idx) < 0 || int(idx) >= len(d.objects) {
			return nil, d.errf("object link %d out of range", idx)
		}
		return d.objects[idx], nil
	case '"':
		n, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		s, err := d.readRawString(n)
		if err != nil {
			return nil, err
		}
		return d.registerObject(s), nil
	case '[':
		n, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		arr := make([]any, 0, n)
		d.registerObject(arr) // placeholder slot; not used for cyclic links here
		for i := int64(0); i < n; i++ {
			v, err := d.readValue()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case '{':
		n, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, n)
		d.registerObject(m)
		for i := int64(0); i < n; i++ {
			k, err := d.readValue()
			if err != nil {
				return nil, err
			}
			v, err := d.readValue()
			if err != nil {
				return nil, err
			}
			ks, ok := k.(string)
			if !ok {
				ks = fmt.Sprintf("%v", k)
			}
			m[ks] = v
		}
		return m, nil
	case 'I':
		inner, err := d.readValue()
		if err != nil {
			return nil, err
		}
		n, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		for i := int64(0); i < n; i++ {
			if _, err := d.readSymbolValue(); err != nil {
				return nil, err
			}
			if _, err := d.readValue(); err != nil {
				return nil, err
			}
		}
		return inner, nil
	case 'o':
		class, err := d.readSymbolValue()
		if err != nil {
			return nil, err
		}
		n, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		obj := &marshalObject{class: class, fields: make(map[string]any, n)}
		d.registerObject(obj)
		for i := int64(0); i < n; i++ {
			name, err := d.readSymbolValue()
			if err != nil {
				return nil, err
			}
			val, err := d.readValue()
			if err != nil {
				return nil, err
			}
			obj.fields[name] = val
		}
		return obj, nil
	case 'U':
		class, err := d.readSymbolValue()
		if err != nil {
			return nil, err
		}
		val, err := d.readValue()
		if err != nil {
			return nil, err
		}
		return d.registerObject(&marshalUserMarshal{class: class, value: val}), nil
	case 'u':
		class, err := d.readSymbolValue()
		if err != nil {
			return nil, err
		}
		n, err := d.readFixnum()
		if err != nil {
			return nil, err
		}
		b, err := d.readBytes(int(n))
		if err != nil {
			return nil, err
		}
		cp := append([]byte(nil), b...)
		return d.registerObject(&marshalUserDefined{class: class, data: cp}), nil
	case 'e':
		// Extended object: a module symbol precedes the real value.
		if _, err := d.readSymbolValue(); err != nil {
			return nil, err
		}
		return d.readValue()
	default:
		return nil, d.errf("unsupported marshal tag %q", tag)
	}
}

// decodeEntries reads the two-byte header (major, minor version bytes)
// followed by a top-level array of 3-element [name, version, platform]
// arrays.
func decodeEntries(data []byte) ([]Record, error) {
	d := newDecoder(data)
	if len(d.data) < 2 {
		return nil, d.errf("truncated marshal stream")
	}
	major, err := d.readByte()
	if err != nil {
		return nil, err
	}
	minor, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if major != 4 {
		return nil, d.errf("unsupported marshal major version %d.%d", major, minor)
	}

	top, err := d.readValue()
	if err != nil {
		return nil, err
	}
	arr, ok := top.([]any)
	if !ok {
		return nil, d.errf("top-level marshal value is not an array")
	}

	out := make([]Record, 0, len(arr))
	for _, entry := range arr {
		rec, err := decodeEntry(d, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeEntry(d *decoder, entry any) (Record, error) {
	arr, ok := entry.([]any)
	if !ok || len(arr) != 3 {
		return Record{}, d.errf("index entry is not a 3-element array")
	}
	name, err := extractLeafString(d, arr[0], "name")
	if err != nil {
		return Record{}, err
	}
	version, err := extractVersionString(d, arr[1])
	if err != nil {
		return Record{}, err
	}
	platform, err := extractLeafString(d, arr[2], "platform")
	if err != nil {
		return Record{}, err
	}
	if platform == "" {
		platform = "ruby"
	}
	return Record{Name: name, Version: version, Platform: platform}, nil
}

// extractLeafString requires value to already be a plain string or
// nothing at all (nil means "not present").
func extractLeafString(d *decoder, value any, field string) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		if !utf8.ValidString(v) {
			return "", d.errf("%s: not valid UTF-8", field)
		}
		return v, nil
	default:
		return "", d.errf("%s: unexpected marshal shape %T", field, value)
	}
}

// versionFieldNames are the object/hash keys the decoder accepts for a
// wrapped Gem::Version value, matching the shapes the index format has
// used across RubyGems releases.
var versionFieldNames = []string{"__value", "@version", "version", "v", "@v"}

// extractVersionString implements the three documented version-field
// shapes: a plain string, a one-element array wrapping a string (the
// shape Gem::Version#marshal_dump produces), or an object/hash exposing
// one of [versionFieldNames].
func extractVersionString(d *decoder, value any) (string, error) {
	switch v := value.(type) {
	case string:
		if !utf8.ValidString(v) {
			return "", d.errf("version: not valid UTF-8")
		}
		return v, nil
	case []any:
		if len(v) == 0 {
			return "", d.errf("version: empty array")
		}
		return extractVersionString(d, v[0])
	case *marshalUserMarshal:
		return extractVersionString(d, v.value)
	case *marshalUserDefined:
		s := string(v.data)
		if !utf8.ValidString(s) {
			return "", d.errf("version: not valid UTF-8")
		}
		return s, nil
	case *marshalObject:
		for _, key := range versionFieldNames {
			if f, ok := v.fields[key]; ok {
				return extractVersionString(d, f)
			}
		}
		return "", d.errf("version: object %s has none of the recognized version fields", v.class)
	case map[string]any:
		for _, key := range versionFieldNames {
			if f, ok := v[key]; ok {
				return extractVersionString(d, f)
			}
		}
		return "", d.errf("version: hash has none of the recognized version fields")
	default:
		return "", d.errf("version: unexpected marshal shape %T", value)
	}
}
