package binder

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// conversion selects the branch of the conversion table a field uses.
type conversion int

const (
	convInvalid conversion = iota
	convBool
	convNumeric
	convString
	convBytes
	convTime
	convEnum
	convReference
)

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

func (c conversion) String() string {
	switch c {
	case convBool:
		return "bool"
	case convNumeric:
		return "numeric"
	case convString:
		return "string"
	case convBytes:
		return "bytes"
	case convTime:
		return "time"
	case convEnum:
		return "enum"
	case convReference:
		return "reference"
	}
	return "invalid"
}

// classify picks the conversion for a scalar type. Pointers are classified
// by their element type.
func classify(t reflect.Type) conversion {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return convTime
	case t == bytesType:
		return convBytes
	case t.Kind() == reflect.Bool:
		return convBool
	case mts.IsNumericKind(t.Kind()):
		return convNumeric
	case t.Kind() == reflect.String:
		return convString
	}
	return convInvalid
}

// readBool accepts native booleans, the configured character codes and
// integers (non-zero is true).
func (b *Binder) readBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return b.boolFromCode(v)
	case []byte:
		return b.boolFromCode(string(v))
	}
	rv := reflect.ValueOf(raw)
	switch {
	case mts.IsIntKind(rv.Kind()):
		return rv.Int() != 0, nil
	case mts.IsUintKind(rv.Kind()):
		return rv.Uint() != 0, nil
	}
	return false, b.unsupported(raw)
}

func (b *Binder) boolFromCode(code string) (bool, error) {
	switch code {
	case b.cfg.TrueCode:
		return true, nil
	case b.cfg.FalseCode:
		return false, nil
	}
	if v, err := strconv.ParseBool(code); err == nil {
		return v, nil
	}
	return false, mts.NewError(mts.ErrorTypeInvalidArgument,
		fmt.Sprintf("%s: %q is not a boolean code", b.Field.Name, code))
}

func (b *Binder) writeBool(v bool) interface{} {
	if b.boolMode() != mts.BoolChar {
		return v
	}
	if v {
		return b.cfg.TrueCode
	}
	return b.cfg.FalseCode
}

func (b *Binder) boolMode() mts.BoolMode {
	if b.Field.BoolMode != "" {
		return b.Field.BoolMode
	}
	return b.cfg.BoolMode
}

// readNumeric converts numbers with precision checks and parses text.
func (b *Binder) readNumeric(raw interface{}, target reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(raw)
	if mts.IsNumericKind(rv.Kind()) {
		return mts.ConvertNumeric(rv, target)
	}

	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return reflect.Value{}, b.unsupported(raw)
	}

	var parsed interface{}
	var err error
	switch k := target.Kind(); {
	case mts.IsIntKind(k):
		parsed, err = strconv.ParseInt(text, 10, 64)
	case mts.IsUintKind(k):
		parsed, err = strconv.ParseUint(text, 10, 64)
	default:
		parsed, err = strconv.ParseFloat(text, 64)
	}
	if err != nil {
		return reflect.Value{}, mts.NewErrorWithCause(mts.ErrorTypeInvalidArgument,
			fmt.Sprintf("%s: cannot parse %q as %s", b.Field.Name, text, target), err)
	}
	return mts.ConvertNumeric(reflect.ValueOf(parsed), target)
}

func (b *Binder) readString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	rv := reflect.ValueOf(raw)
	switch k := rv.Kind(); {
	case k == reflect.String:
		return rv.String(), nil
	case mts.IsIntKind(k):
		return strconv.FormatInt(rv.Int(), 10), nil
	case mts.IsUintKind(k):
		return strconv.FormatUint(rv.Uint(), 10), nil
	case mts.IsFloatKind(k):
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}
	return "", b.unsupported(raw)
}

func (b *Binder) readBytes(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	}
	return nil, b.unsupported(raw)
}

// readTime accepts time values, RFC 3339 text and epoch milliseconds.
func (b *Binder) readTime(raw interface{}) (time.Time, error) {
	var t time.Time
	switch v := raw.(type) {
	case time.Time:
		t = v
	case *time.Time:
		t = *v
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, mts.NewErrorWithCause(mts.ErrorTypeInvalidArgument,
				fmt.Sprintf("%s: cannot parse %q as a timestamp", b.Field.Name, v), err)
		}
		t = parsed
	case int64:
		t = time.UnixMilli(v)
	default:
		return time.Time{}, b.unsupported(raw)
	}
	return b.normalizeTime(t), nil
}

func (b *Binder) normalizeTime(t time.Time) time.Time {
	if b.cfg.NormalizeUTC {
		return t.UTC()
	}
	return t
}

func (b *Binder) unsupported(raw interface{}) error {
	return mts.NewError(mts.ErrorTypeInvalidArgument,
		fmt.Sprintf("%s: %T cannot be converted for a %s column", b.Field.Name, raw, b.conv))
}
