package binder

import (
	"fmt"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// enumAccessor is a resolved getter/setter pair on an enumerated type.
// The getter takes no arguments and returns the stored value, optionally
// followed by an error. The setter takes the stored value and may return
// an error.
type enumAccessor struct {
	typ    reflect.Type
	getter reflect.Method
	setter reflect.Method
}

type accessorKey struct {
	typ    reflect.Type
	getter string
	setter string
}

type accessorResult struct {
	accessor *enumAccessor
	err      error
}

var (
	accessorCache = xsync.NewMapOf[accessorKey, accessorResult]()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

// hasAccessors reports whether *t declares both named methods.
func hasAccessors(t reflect.Type, getter, setter string) bool {
	pt := reflect.PointerTo(t)
	_, g := pt.MethodByName(getter)
	_, s := pt.MethodByName(setter)
	return g && s
}

// resolveAccessor looks up and validates the accessor pair once per
// (type, getter, setter).
func resolveAccessor(t reflect.Type, getter, setter string) (*enumAccessor, error) {
	key := accessorKey{typ: t, getter: getter, setter: setter}
	res, _ := accessorCache.LoadOrCompute(key, func() accessorResult {
		a, err := newAccessor(t, getter, setter)
		return accessorResult{accessor: a, err: err}
	})
	return res.accessor, res.err
}

func newAccessor(t reflect.Type, getter, setter string) (*enumAccessor, error) {
	pt := reflect.PointerTo(t)
	g, ok := pt.MethodByName(getter)
	if !ok {
		return nil, mts.NewError(mts.ErrorTypeConfiguration, fmt.Sprintf("%s has no accessor %s", t, getter))
	}
	s, ok := pt.MethodByName(setter)
	if !ok {
		return nil, mts.NewError(mts.ErrorTypeConfiguration, fmt.Sprintf("%s has no accessor %s", t, setter))
	}

	// Method types include the receiver as In(0).
	gt := g.Type
	if gt.NumIn() != 1 || gt.NumOut() < 1 || gt.NumOut() > 2 || (gt.NumOut() == 2 && gt.Out(1) != errorType) {
		return nil, mts.NewError(mts.ErrorTypeConfiguration,
			fmt.Sprintf("%s.%s must take no arguments and return a value and an optional error", t, getter))
	}
	st := s.Type
	if st.NumIn() != 2 || st.NumOut() > 1 || (st.NumOut() == 1 && st.Out(0) != errorType) {
		return nil, mts.NewError(mts.ErrorTypeConfiguration,
			fmt.Sprintf("%s.%s must take one argument and return an optional error", t, setter))
	}
	return &enumAccessor{typ: t, getter: g, setter: s}, nil
}

// get returns the stored representation of the addressable value v.
func (a *enumAccessor) get(v reflect.Value) (interface{}, error) {
	out := a.getter.Func.Call([]reflect.Value{v.Addr()})
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// set decodes raw into a new value of the enumerated type.
func (a *enumAccessor) set(raw interface{}) (reflect.Value, error) {
	param := a.setter.Type.In(1)
	arg := reflect.ValueOf(raw)
	switch {
	case arg.Type().AssignableTo(param):
	case mts.IsNumericKind(arg.Kind()) && mts.IsNumericKind(param.Kind()):
		cv, err := mts.ConvertNumeric(arg, param)
		if err != nil {
			return reflect.Value{}, err
		}
		arg = cv
	case arg.Kind() == param.Kind() && arg.Type().ConvertibleTo(param):
		arg = arg.Convert(param)
	case param.Kind() == reflect.String && arg.Type() == bytesType:
		arg = reflect.ValueOf(string(raw.([]byte))).Convert(param)
	default:
		return reflect.Value{}, mts.NewError(mts.ErrorTypeInvalidArgument,
			fmt.Sprintf("%s.%s cannot accept %T", a.typ, a.setter.Name, raw))
	}

	ptr := reflect.New(a.typ)
	out := a.setter.Func.Call([]reflect.Value{ptr, arg})
	if len(out) == 1 && !out[0].IsNil() {
		return reflect.Value{}, out[0].Interface().(error)
	}
	return ptr.Elem(), nil
}
