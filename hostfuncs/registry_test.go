package hostfuncs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/reglet-dev/trapbridge/trap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, payload []byte) ([]byte, error) {
	return append([]byte("echo:"), payload...), nil
}

func TestNewRegistry_Empty(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Empty(t, reg.Names())
}

func TestNewRegistry_InvalidNames(t *testing.T) {
	tests := []struct {
		name    string
		opts    []RegistryOption
		wantErr string
	}{
		{
			name:    "empty name",
			opts:    []RegistryOption{WithByteHandler("", echoHandler)},
			wantErr: "cannot be empty",
		},
		{
			name: "duplicate",
			opts: []RegistryOption{
				WithByteHandler("echo", echoHandler),
				WithByteHandler("echo", echoHandler),
			},
			wantErr: "duplicate handler name",
		},
		{
			name: "bundle clash",
			opts: []RegistryOption{
				WithBundle(CoreBundle(nil)),
				WithByteHandler("log", echoHandler),
			},
			wantErr: `"log"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHandlerRegistry_Invoke(t *testing.T) {
	reg, err := NewRegistry(WithByteHandler("echo", echoHandler))
	require.NoError(t, err)

	t.Run("found handler", func(t *testing.T) {
		resp, err := reg.Invoke(context.Background(), "echo", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "echo:hello", string(resp))
	})

	t.Run("not found handler", func(t *testing.T) {
		resp, err := reg.Invoke(context.Background(), "unknown", []byte("test"))
		require.NoError(t, err)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal(resp, &errResp))
		assert.Equal(t, "NOT_FOUND", errResp.Error)
		assert.Equal(t, 404, errResp.Code)
	})
}

func TestHandlerRegistry_NamesSorted(t *testing.T) {
	reg, err := NewRegistry(
		WithByteHandler("zebra", echoHandler),
		WithByteHandler("alpha", echoHandler),
		WithByteHandler("middle", echoHandler),
	)
	require.NoError(t, err)

	names := reg.Names()
	assert.Equal(t, []string{"alpha", "middle", "zebra"}, names)

	names[0] = "mutated"
	assert.Equal(t, "alpha", reg.Names()[0])
	assert.True(t, reg.Has("zebra"))
	assert.False(t, reg.Has("mutated"))
}

func TestHandlerRegistry_InvokeSetsHostContext(t *testing.T) {
	var capturedName string
	reg, err := NewRegistry(WithByteHandler("test_func", func(ctx context.Context, payload []byte) ([]byte, error) {
		if hc, ok := ctx.(HostContext); ok {
			capturedName = hc.FunctionName()
		}
		return nil, nil
	}))
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "test_func", nil)
	require.NoError(t, err)
	assert.Equal(t, "test_func", capturedName)
}

func TestHandlerRegistry_Dispatch(t *testing.T) {
	boom := errors.New("disk on fire")
	reg, err := NewRegistry(
		WithByteHandler("echo", echoHandler),
		WithByteHandler("fail", func(ctx context.Context, payload []byte) ([]byte, error) {
			return nil, boom
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, "echo:x", string(reg.Dispatch(context.Background(), "echo", []byte("x"))))

	defer func() {
		f, ok := recover().(*trap.Fault)
		require.True(t, ok)
		assert.Equal(t, trap.HostFault, f.Code)
		assert.Contains(t, f.Message, "fail: disk on fire")
		assert.ErrorIs(t, f, boom)
	}()
	reg.Dispatch(context.Background(), "fail", nil)
	t.Fatal("Dispatch returned after a handler error")
}
