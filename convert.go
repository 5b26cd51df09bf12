package mts

import (
	"fmt"
	"math"
	"reflect"
)

// IsIntKind reports signed integer kinds.
func IsIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

// IsUintKind reports unsigned integer kinds.
func IsUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

// IsFloatKind reports floating point kinds.
func IsFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// IsNumericKind reports any integer or floating point kind.
func IsNumericKind(k reflect.Kind) bool {
	return IsIntKind(k) || IsUintKind(k) || IsFloatKind(k)
}

// ConvertNumeric converts a numeric value to target, which must have a
// numeric kind. Narrowing is verified by round-tripping the result against
// the original and fails with ErrorTypePrecisionLoss when they differ.
func ConvertNumeric(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	if !IsNumericKind(v.Kind()) || !IsNumericKind(target.Kind()) {
		return reflect.Value{}, invalidArgumentf("cannot convert %s to %s", v.Type(), target)
	}
	out := reflect.New(target).Elem()
	lossy := false

	switch tk := target.Kind(); {
	case IsIntKind(tk):
		switch {
		case IsIntKind(v.Kind()):
			out.SetInt(v.Int())
			lossy = out.Int() != v.Int()
		case IsUintKind(v.Kind()):
			u := v.Uint()
			if u > math.MaxInt64 {
				lossy = true
				break
			}
			out.SetInt(int64(u))
			lossy = out.Int() != int64(u)
		default:
			f := v.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				lossy = true
				break
			}
			out.SetInt(int64(f))
			lossy = float64(out.Int()) != f
		}
	case IsUintKind(tk):
		switch {
		case IsIntKind(v.Kind()):
			i := v.Int()
			if i < 0 {
				lossy = true
				break
			}
			out.SetUint(uint64(i))
			lossy = out.Uint() != uint64(i)
		case IsUintKind(v.Kind()):
			out.SetUint(v.Uint())
			lossy = out.Uint() != v.Uint()
		default:
			f := v.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				lossy = true
				break
			}
			out.SetUint(uint64(f))
			lossy = float64(out.Uint()) != f
		}
	default:
		switch {
		case IsIntKind(v.Kind()):
			i := v.Int()
			out.SetFloat(float64(i))
			back := out.Float()
			lossy = back >= math.MaxInt64 || int64(back) != i
		case IsUintKind(v.Kind()):
			u := v.Uint()
			out.SetFloat(float64(u))
			back := out.Float()
			lossy = back >= math.MaxUint64 || uint64(back) != u
		default:
			f := v.Float()
			out.SetFloat(f)
			lossy = out.Float() != f && !(math.IsNaN(f) && math.IsNaN(out.Float()))
		}
	}

	if lossy {
		return reflect.Value{}, NewError(ErrorTypePrecisionLoss,
			fmt.Sprintf("%v (%s) cannot be represented as %s without loss", v.Interface(), v.Type(), target))
	}
	return out, nil
}

// coerceScalar converts value to target for key and foreign-key assignment.
// Numeric values convert with precision checks, strings only to string kinds.
func coerceScalar(value interface{}, target reflect.Type) (reflect.Value, error) {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return reflect.Value{}, invalidArgumentf("nil is not a valid key value for %s", target)
	}
	if v.Type() == target {
		return v, nil
	}
	switch {
	case IsNumericKind(target.Kind()) && IsNumericKind(v.Kind()):
		return ConvertNumeric(v, target)
	case target.Kind() == reflect.String && v.Kind() == reflect.String:
		return v.Convert(target), nil
	}
	return reflect.Value{}, NewError(ErrorTypeInvalidArgument,
		fmt.Sprintf("unsupported key value type %s for field of type %s", v.Type(), target))
}
