// Package jsonobj provides a JSON object type that remembers the order of its members, plus the
// two encodings Composer uses: pretty-printed files and the compact form fed to the lock file
// content hash.
package jsonobj

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"unicode/utf8"
)

// Member is one key/value pair of an [Object].
type Member struct {
	Key   string
	Value json.RawMessage
}

// Object is a JSON object whose members keep their document order.  The zero value is an empty
// object.  Decoding also accepts an empty JSON array because PHP encodes empty maps as [].
type Object struct {
	members []Member
}

// New returns an object with the given members.  Later duplicates replace earlier ones.
func New(members ...Member) Object {
	var o Object
	for _, m := range members {
		o.Set(m.Key, m.Value)
	}
	return o
}

// Len returns the number of members.
func (o Object) Len() int { return len(o.members) }

// Get returns the raw value stored under key.
func (o Object) Get(key string) (json.RawMessage, bool) {
	if i := o.index(key); i >= 0 {
		return o.members[i].Value, true
	}
	return nil, false
}

// Has reports whether key is present.
func (o Object) Has(key string) bool { return o.index(key) >= 0 }

func (o Object) index(key string) int {
	return slices.IndexFunc(o.members, func(m Member) bool { return m.Key == key })
}

// Set stores v under key, keeping the key's position if it is already present.
func (o *Object) Set(key string, v json.RawMessage) {
	if i := o.index(key); i >= 0 {
		o.members[i].Value = v
		return
	}
	o.members = append(o.members, Member{key, v})
}

// SetValue marshals v and stores it under key.
func (o *Object) SetValue(key string, v any) error {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	o.Set(key, b)
	return nil
}

// Delete removes key if present.
func (o *Object) Delete(key string) {
	o.members = slices.DeleteFunc(o.members, func(m Member) bool { return m.Key == key })
}

// All iterates over the members in order.
func (o Object) All() iter.Seq2[string, json.RawMessage] {
	return func(yield func(string, json.RawMessage) bool) {
		for _, m := range o.members {
			if !yield(m.Key, m.Value) {
				return
			}
		}
	}
}

// Keys iterates over the member keys in order.
func (o Object) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, m := range o.members {
			if !yield(m.Key) {
				return
			}
		}
	}
}

// Clone returns a shallow copy of o.
func (o Object) Clone() Object { return Object{slices.Clone(o.members)} }

// Decode unmarshals the value stored under key into dst.  It reports false if key is absent.
func Decode[T any](o Object, key string, dst *T) (bool, error) {
	raw, ok := o.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Reorder returns a copy of o with the keys named in order first (in that order, when present),
// followed by the remaining members in their original order.  Keys listed in last are moved to the
// very end.
func (o Object) Reorder(order, last []string) Object {
	var ret Object
	for _, k := range order {
		if v, ok := o.Get(k); ok {
			ret.members = append(ret.members, Member{k, v})
		}
	}
	for _, m := range o.members {
		if !slices.Contains(order, m.Key) && !slices.Contains(last, m.Key) {
			ret.members = append(ret.members, m)
		}
	}
	for _, k := range last {
		if v, ok := o.Get(k); ok {
			ret.members = append(ret.members, Member{k, v})
		}
	}
	return ret
}

// SortKeys returns a copy of o with members sorted by key.
func (o Object) SortKeys() Object {
	ret := o.Clone()
	slices.SortStableFunc(ret.members, func(a, b Member) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return ret
}

var errNotObject = errors.New("expected a JSON object")

func (o *Object) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch tok {
	case json.Delim('['):
		if end, err := dec.Token(); err != nil || end != json.Delim(']') {
			return errNotObject
		}
		o.members = nil
		return nil
	case json.Delim('{'):
	default:
		return errNotObject
	}
	o.members = nil
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", kt)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("failed to decode value of %q: %w", key, err)
		}
		o.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o.members {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := Marshal(m.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if len(m.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(m.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Marshal is like [json.Marshal] but does not escape HTML characters.  The result is compact.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MarshalPretty encodes v the way Composer writes its JSON files: four-space indentation, slashes
// and non-ASCII characters left unescaped, and a trailing newline.
func MarshalPretty(v any) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "    "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// MarshalPHPCompact encodes v the way PHP's json_encode does with no flags: compact, with "/"
// escaped as "\/", non-ASCII characters escaped as \uXXXX, and empty objects written as [].
func MarshalPHPCompact(v any) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	inStr := false
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case inStr && c == '\\':
			buf.Write(b[i : i+2])
			i += 2
			continue
		case inStr && c == '/':
			buf.WriteString(`\/`)
		case inStr && c >= utf8.RuneSelf:
			r, n := utf8.DecodeRune(b[i:])
			writeUEscape(&buf, r)
			i += n
			continue
		case c == '"':
			inStr = !inStr
			buf.WriteByte(c)
		case !inStr && c == '{' && i+1 < len(b) && b[i+1] == '}':
			buf.WriteString("[]")
			i += 2
			continue
		default:
			buf.WriteByte(c)
		}
		i++
	}
	return buf.Bytes(), nil
}

func writeUEscape(buf *bytes.Buffer, r rune) {
	write := func(u rune) {
		s := strconv.FormatInt(int64(u), 16)
		buf.WriteString(`\u`)
		for range 4 - len(s) {
			buf.WriteByte('0')
		}
		buf.WriteString(s)
	}
	if r > 0xffff {
		r -= 0x10000
		write(0xd800 + (r>>10)&0x3ff)
		write(0xdc00 + r&0x3ff)
		return
	}
	write(r)
}
