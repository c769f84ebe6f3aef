package mimir

import (
	"encoding/json"
	"strconv"
)

// ValueKind identifies the shape held by a Value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueArray
	ValueObject
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueBool:
		return "bool"
	case ValueNumber:
		return "number"
	case ValueString:
		return "string"
	case ValueArray:
		return "array"
	case ValueObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is a tagged variant holding one JSON-compatible document value:
// null, bool, number, string, array of Value, or nested Document. Numbers
// are kept as their literal text so that 1, 1.0 and "1" stay distinct and
// round-trip without loss.
type Value struct {
	kind ValueKind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  *Document
}

// Null returns the null value.
func Null() Value { return Value{kind: ValueNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Int returns an integer number value.
func Int(i int64) Value {
	return Value{kind: ValueNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// Float returns a floating-point number value. Non-finite floats are
// representable but rejected with an encoding error when marshaled.
func Float(f float64) Value {
	return Value{kind: ValueNumber, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Number returns a number value from its literal representation.
func Number(n json.Number) Value { return Value{kind: ValueNumber, num: n} }

// String returns a text value.
func String(s string) Value { return Value{kind: ValueString, str: s} }

// Array returns an array value.
func Array(vals ...Value) Value { return Value{kind: ValueArray, arr: vals} }

// Object returns a nested document value.
func Object(d Document) Value { return Value{kind: ValueObject, obj: &d} }

// Kind returns the value's shape tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null. The zero Value is null.
func (v Value) IsNull() bool { return v.kind == ValueNull }

// BoolVal returns the boolean payload.
func (v Value) BoolVal() (bool, bool) {
	return v.b, v.kind == ValueBool
}

// NumberVal returns the number payload as its literal text.
func (v Value) NumberVal() (json.Number, bool) {
	return v.num, v.kind == ValueNumber
}

// Int64 returns the number payload as an int64 if it parses as one.
func (v Value) Int64() (int64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	i, err := v.num.Int64()
	return i, err == nil
}

// Float64 returns the number payload as a float64 if it parses as one.
func (v Value) Float64() (float64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	f, err := v.num.Float64()
	return f, err == nil
}

// StringVal returns the text payload.
func (v Value) StringVal() (string, bool) {
	return v.str, v.kind == ValueString
}

// ArrayVal returns the array payload. The slice is shared, not copied.
func (v Value) ArrayVal() ([]Value, bool) {
	return v.arr, v.kind == ValueArray
}

// ObjectVal returns the nested document payload.
func (v Value) ObjectVal() (Document, bool) {
	if v.kind != ValueObject || v.obj == nil {
		return Document{}, v.kind == ValueObject
	}
	return *v.obj, true
}

// Equal reports deep equality. Numbers compare by literal text, so 1 and
// 1.0 are distinct, matching the no-coercion wire contract.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNull:
		return true
	case ValueBool:
		return v.b == o.b
	case ValueNumber:
		return v.num == o.num
	case ValueString:
		return v.str == o.str
	case ValueArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case ValueObject:
		var a, b Document
		if v.obj != nil {
			a = *v.obj
		}
		if o.obj != nil {
			b = *o.obj
		}
		return a.Equal(b)
	default:
		return false
	}
}

// appendJSON appends the value's wire encoding to buf. Non-finite numbers
// are the one shape JSON cannot carry and fail with an encoding error.
func (v Value) appendJSON(buf []byte) ([]byte, error) {
	switch v.kind {
	case ValueNull:
		return append(buf, "null"...), nil
	case ValueBool:
		if v.b {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case ValueNumber:
		lit := string(v.num)
		switch lit {
		case "", "NaN", "+Inf", "-Inf", "Inf":
			return nil, errorf(KindEncoding, "non_finite_number",
				"number %q cannot be encoded as JSON", lit)
		}
		return append(buf, lit...), nil
	case ValueString:
		return appendJSONString(buf, v.str), nil
	case ValueArray:
		buf = append(buf, '[')
		for i, e := range v.arr {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = e.appendJSON(buf)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case ValueObject:
		var d Document
		if v.obj != nil {
			d = *v.obj
		}
		return d.appendJSON(buf)
	default:
		return nil, errorf(KindEncoding, "invalid_value",
			"value kind %d is not encodable", v.kind)
	}
}

func appendJSONString(buf []byte, s string) []byte {
	// encoding/json escapes correctly for all strings; reuse it.
	b, _ := json.Marshal(s)
	return append(buf, b...)
}
