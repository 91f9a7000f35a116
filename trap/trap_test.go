package trap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_TextRoundTrip(t *testing.T) {
	for _, code := range Codes() {
		text, err := code.MarshalText()
		require.NoError(t, err)

		var got Code
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, code, got, "slug %s", text)
	}
}

func TestCode_UnmarshalUnknown(t *testing.T) {
	var c Code
	err := c.UnmarshalText([]byte("segfault"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segfault")
}

func TestCode_OutOfRange(t *testing.T) {
	c := Code(200)
	assert.Equal(t, "trap(200)", c.String())
	assert.Equal(t, "unknown", c.Slug())
}

func TestFault_Error(t *testing.T) {
	tests := []struct {
		name  string
		fault *Fault
		want  string
	}{
		{
			name:  "code only",
			fault: New(Unreachable, ""),
			want:  "guest trap: unreachable",
		},
		{
			name:  "message equal to code is not repeated",
			fault: New(IntegerDivideByZero, "integer divide by zero"),
			want:  "guest trap: integer divide by zero",
		},
		{
			name:  "message and address",
			fault: New(OutOfBoundsMemoryAccess, "guard page").WithAddr(0x7f0000001000),
			want:  "guest trap: out of bounds memory access: guard page at 0x7f0000001000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fault.Error())
		})
	}
}

func TestRaise_PanicsWithFault(t *testing.T) {
	defer func() {
		r := recover()
		f, ok := r.(*Fault)
		require.True(t, ok, "recovered %T", r)
		assert.Equal(t, StackOverflow, f.Code)
		assert.Equal(t, "depth 1024", f.Message)
	}()
	Raise(StackOverflow, "depth 1024")
}

func TestCheckInterrupt(t *testing.T) {
	CheckInterrupt(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	defer func() {
		f, ok := recover().(*Fault)
		require.True(t, ok)
		assert.Equal(t, Interrupted, f.Code)
		assert.ErrorIs(t, f, context.Canceled)
	}()
	CheckInterrupt(ctx)
}

func TestError_WithFault(t *testing.T) {
	cause := fmt.Errorf("wasm error: unreachable")
	err := NewError("run", New(Unreachable, "").WithCause(cause))

	assert.Equal(t, "guest trap: unreachable (in run)", err.Error())
	assert.True(t, errors.Is(err, ErrTrap))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, Unreachable, err.Code())
	assert.False(t, err.Timeout())

	wrapped := fmt.Errorf("calling guest: %w", err)
	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, Unreachable, code)
}

func TestError_WithoutFault(t *testing.T) {
	err := NewError("", nil)

	assert.Equal(t, "guest trap at <unknown>", err.Error())
	assert.Equal(t, Unknown, err.Code())
	assert.True(t, errors.Is(err, ErrTrap))
}

func TestError_ToErrorDetail(t *testing.T) {
	err := NewError("loop", New(Interrupted, "deadline exceeded"))
	d := err.ToErrorDetail()

	assert.Equal(t, "timeout", d.Type)
	assert.Equal(t, "interrupted", d.Code)
	assert.True(t, d.IsTimeout)
	assert.Empty(t, d.Addr)

	err = NewError("", New(OutOfBoundsMemoryAccess, "").WithAddr(0x1000))
	d = err.ToErrorDetail()
	assert.Equal(t, "trap", d.Type)
	assert.Equal(t, "0x1000", d.Addr)
}

func TestCodeOf_NotATrap(t *testing.T) {
	_, ok := CodeOf(errors.New("plain"))
	assert.False(t, ok)
}
