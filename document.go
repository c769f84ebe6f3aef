package mimir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Field is one named value inside a Document.
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered mapping of field name to Value. Field order is
// preserved through encode/decode, and duplicate names are rejected on
// decode. The zero Document is empty and ready to use.
type Document struct {
	fields []Field
}

// NewDocument returns an empty document.
func NewDocument() Document { return Document{} }

// Doc builds a document from fields in order. Later duplicates overwrite
// earlier ones in place.
func Doc(fields ...Field) Document {
	var d Document
	for _, f := range fields {
		d.Set(f.Name, f.Value)
	}
	return d
}

// F is shorthand for constructing a Field.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// Set assigns a field, replacing an existing field of the same name in
// place or appending a new one. Returns the document for chaining.
func (d *Document) Set(name string, v Value) *Document {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Value = v
			return d
		}
	}
	d.fields = append(d.fields, Field{Name: name, Value: v})
	return d
}

// Get returns the value for name.
func (d Document) Get(name string) (Value, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Delete removes a field if present, preserving the order of the rest.
func (d *Document) Delete(name string) bool {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields = append(d.fields[:i], d.fields[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of fields.
func (d Document) Len() int { return len(d.fields) }

// Fields returns a copy of the fields in order.
func (d Document) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Equal reports deep equality including field order.
func (d Document) Equal(o Document) bool {
	if len(d.fields) != len(o.fields) {
		return false
	}
	for i := range d.fields {
		if d.fields[i].Name != o.fields[i].Name {
			return false
		}
		if !d.fields[i].Value.Equal(o.fields[i].Value) {
			return false
		}
	}
	return true
}

func (d Document) appendJSON(buf []byte) ([]byte, error) {
	buf = append(buf, '{')
	for i, f := range d.fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendJSONString(buf, f.Name)
		buf = append(buf, ':')
		var err error
		buf, err = f.Value.appendJSON(buf)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, '}'), nil
}

// MarshalJSON encodes the document as a JSON object with fields in order.
func (d Document) MarshalJSON() ([]byte, error) {
	return d.appendJSON(nil)
}

// UnmarshalJSON decodes a JSON object preserving field order. Numbers are
// kept as literals, never coerced to float64.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc, err := decodeDocument(dec)
	if err != nil {
		return err
	}
	// Reject trailing garbage.
	if _, err := dec.Token(); err != io.EOF {
		return errorf(KindEncoding, "trailing_data", "unexpected data after document")
	}
	*d = doc
	return nil
}

func decodeDocument(dec *json.Decoder) (Document, error) {
	tok, err := dec.Token()
	if err != nil {
		return Document{}, decodeErr(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Document{}, errorf(KindEncoding, "not_an_object",
			"expected JSON object, got %v", tok)
	}
	return decodeObjectBody(dec)
}

// decodeObjectBody consumes fields up to and including the closing brace.
func decodeObjectBody(dec *json.Decoder) (Document, error) {
	var d Document
	seen := map[string]struct{}{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Document{}, decodeErr(err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return Document{}, errorf(KindEncoding, "invalid_key",
				"object key is not a string: %v", keyTok)
		}
		if _, dup := seen[key]; dup {
			return Document{}, errorf(KindEncoding, "duplicate_field",
				"duplicate field %q", key)
		}
		seen[key] = struct{}{}
		v, err := decodeValue(dec)
		if err != nil {
			return Document{}, err
		}
		d.fields = append(d.fields, Field{Name: key, Value: v})
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return Document{}, decodeErr(err)
	}
	return d, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, decodeErr(err)
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj, err := decodeObjectBody(dec)
			if err != nil {
				return Value{}, err
			}
			return Object(obj), nil
		case '[':
			var arr []Value
			for dec.More() {
				e, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, e)
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return Value{}, decodeErr(err)
			}
			return Array(arr...), nil
		}
	}
	return Value{}, errorf(KindEncoding, "invalid_token", "unexpected token %v", tok)
}

func decodeErr(err error) *Error {
	return newError(KindEncoding, "malformed_json",
		fmt.Sprintf("decode document: %v", err), err)
}

// EncodeDocuments marshals a batch as a JSON array in one buffer.
func EncodeDocuments(docs []Document) ([]byte, error) {
	buf := []byte{'['}
	for i, doc := range docs {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = doc.appendJSON(buf)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, ']'), nil
}

// DecodeDocuments parses a JSON array of objects preserving order.
func DecodeDocuments(data []byte) ([]Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, decodeErr(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, errorf(KindEncoding, "not_an_array",
			"expected JSON array, got %v", tok)
	}
	var out []Document
	for dec.More() {
		doc, err := decodeDocument(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, decodeErr(err)
	}
	return out, nil
}
