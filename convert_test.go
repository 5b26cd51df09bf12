package mts

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertNumeric(t *testing.T) {
	tests := []struct {
		name   string
		in     interface{}
		target interface{}
		want   interface{}
		lossy  bool
	}{
		{"widen int32 to int64", int32(-7), int64(0), int64(-7), false},
		{"narrow int64 to int16", int64(300), int16(0), int16(300), false},
		{"overflow int16", int64(40000), int16(0), nil, true},
		{"negative to unsigned", int64(-1), uint32(0), nil, true},
		{"unsigned to int8", uint64(127), int8(0), int8(127), false},
		{"unsigned overflow", uint64(math.MaxUint64), int64(0), nil, true},
		{"whole float to int", float64(12), int32(0), int32(12), false},
		{"fraction to int", float64(1.25), int64(0), nil, true},
		{"float64 to float32 exact", float64(0.5), float32(0), float32(0.5), false},
		{"float64 to float32 lossy", float64(0.1), float32(0), nil, true},
		{"int to float64 exact", int64(1) << 52, float64(0), float64(1 << 52), false},
		{"int to float64 lossy", int64(1)<<53 + 1, float64(0), nil, true},
		{"int to float32 lossy", int64(16777217), float32(0), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ConvertNumeric(reflect.ValueOf(tt.in), reflect.TypeOf(tt.target))
			if tt.lossy {
				require.Error(t, err)
				assert.True(t, IsPrecisionLoss(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Interface())
		})
	}
}

func TestConvertNumericRejectsNonNumeric(t *testing.T) {
	_, err := ConvertNumeric(reflect.ValueOf("12"), reflect.TypeOf(int64(0)))
	assert.True(t, IsInvalidArgument(err))
}

func TestCoerceScalar(t *testing.T) {
	type code string

	v, err := coerceScalar("x", reflect.TypeOf(code("")))
	require.NoError(t, err)
	assert.Equal(t, code("x"), v.Interface())

	v, err = coerceScalar(5, reflect.TypeOf(int16(0)))
	require.NoError(t, err)
	assert.Equal(t, int16(5), v.Interface())

	_, err = coerceScalar(true, reflect.TypeOf(""))
	assert.True(t, IsInvalidArgument(err))

	_, err = coerceScalar(nil, reflect.TypeOf(""))
	assert.True(t, IsInvalidArgument(err))
}
