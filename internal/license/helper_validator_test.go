package license

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeHelper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell helper scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "license-helper")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testParams() Params {
	return Params{Key: "K", AccountID: "1", Broker: "B", DeviceID: "D", Endpoint: "https://example.invalid/validate"}
}

func TestHelperValidator(t *testing.T) {
	t.Run("Unavailable", func(t *testing.T) {
		v := NewHelperValidator("", time.Second, zap.NewNop())
		_, err := v.Validate(context.Background(), testParams())
		assert.ErrorIs(t, err, ErrHelperUnavailable)

		v = NewHelperValidator(filepath.Join(t.TempDir(), "missing"), time.Second, zap.NewNop())
		_, err = v.Validate(context.Background(), testParams())
		assert.ErrorIs(t, err, ErrHelperUnavailable)
	})

	t.Run("Success", func(t *testing.T) {
		path := writeHelper(t, `cat >/dev/null
echo '{"valid":true,"token":"helper-token","ttlSeconds":600}'
`)
		v := NewHelperValidator(path, 5*time.Second, zap.NewNop())

		res, err := v.Validate(context.Background(), testParams())

		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, "helper-token", res.Token)
		assert.Equal(t, 600*time.Second, res.TTL)
		assert.Equal(t, "helper", res.Source)
	})

	t.Run("ExitCodes", func(t *testing.T) {
		cases := map[string]string{
			"1": ErrorNotInitialized,
			"2": ErrorNetwork,
			"3": ErrorHTTP,
			"4": ErrorInvalid,
			"5": ErrorParam,
		}
		for exit, code := range cases {
			path := writeHelper(t, "cat >/dev/null\necho failed >&2\nexit "+exit+"\n")
			v := NewHelperValidator(path, 5*time.Second, zap.NewNop())

			res, err := v.Validate(context.Background(), testParams())

			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, code, res.Code, "exit %s", exit)
			assert.Equal(t, "failed", res.Error)
		}
	})
}

type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context, p Params) (Result, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(Result), args.Error(1)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	p := testParams()

	t.Run("PrimaryAnswers", func(t *testing.T) {
		primary, fallback := new(MockValidator), new(MockValidator)
		primary.On("Validate", ctx, p).Return(Result{Code: ErrorInvalid, Error: "bad key"}, nil)

		res, err := NewChain(primary, fallback, zap.NewNop()).Validate(ctx, p)

		require.NoError(t, err)
		assert.Equal(t, ErrorInvalid, res.Code)
		fallback.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
	})

	t.Run("FallsBack", func(t *testing.T) {
		primary, fallback := new(MockValidator), new(MockValidator)
		primary.On("Validate", ctx, p).Return(Result{}, ErrHelperUnavailable)
		fallback.On("Validate", ctx, p).Return(Result{Valid: true, Code: StatusOK, TTL: time.Minute}, nil)

		res, err := NewChain(primary, fallback, zap.NewNop()).Validate(ctx, p)

		require.NoError(t, err)
		assert.True(t, res.Valid)
		fallback.AssertExpectations(t)
	})

	t.Run("OtherErrorsPropagate", func(t *testing.T) {
		primary, fallback := new(MockValidator), new(MockValidator)
		boom := errors.New("boom")
		primary.On("Validate", ctx, p).Return(Result{}, boom)

		_, err := NewChain(primary, fallback, zap.NewNop()).Validate(ctx, p)

		assert.ErrorIs(t, err, boom)
	})
}
