package frame_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/illmade-knight/go-captureflow/pkg/frame"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSensor struct {
	frame []byte
	err   error
	// length, when set, is reported instead of the copied byte count.
	length *int
}

func (s *fakeSensor) Grab(_ context.Context, buf []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.length != nil {
		return *s.length, nil
	}
	if len(s.frame) > len(buf) {
		return 0, frame.ErrFrameTooLarge
	}
	return copy(buf, s.frame), nil
}

func TestPool_AcquireRelease(t *testing.T) {
	pool, err := frame.NewPool(frame.PoolConfig{Slots: 2, SlotBytes: 1024}, &fakeSensor{frame: pattern(512)}, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, pattern(512), first.Bytes())
	assert.Equal(t, 1, pool.Available())

	second, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pool.Available())

	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, frame.ErrCaptureUnavailable, "an exhausted pool must not block")

	first.Release()
	first.Release()
	assert.Equal(t, 1, pool.Available(), "double release must not grow the pool")

	second.Release()
	assert.Equal(t, 2, pool.Available())
}

func TestPool_SensorFailuresReturnSlot(t *testing.T) {
	t.Run("no frame ready", func(t *testing.T) {
		pool, err := frame.NewPool(frame.PoolConfig{Slots: 1, SlotBytes: 16}, &fakeSensor{err: frame.ErrNoFrame}, zerolog.Nop())
		require.NoError(t, err)

		_, err = pool.Acquire(context.Background())
		assert.ErrorIs(t, err, frame.ErrCaptureUnavailable)
		assert.ErrorIs(t, err, frame.ErrNoFrame)
		assert.Equal(t, 1, pool.Available())
	})

	t.Run("frame larger than slot", func(t *testing.T) {
		pool, err := frame.NewPool(frame.PoolConfig{Slots: 1, SlotBytes: 16}, &fakeSensor{frame: pattern(17)}, zerolog.Nop())
		require.NoError(t, err)

		_, err = pool.Acquire(context.Background())
		assert.ErrorIs(t, err, frame.ErrCaptureUnavailable)
		assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
		assert.Equal(t, 1, pool.Available())
	})

	t.Run("negative length", func(t *testing.T) {
		n := -1
		pool, err := frame.NewPool(frame.PoolConfig{Slots: 1, SlotBytes: 16}, &fakeSensor{length: &n}, zerolog.Nop())
		require.NoError(t, err)

		var lease *frame.Lease
		require.NotPanics(t, func() { lease, err = pool.Acquire(context.Background()) })
		assert.Nil(t, lease)
		assert.ErrorIs(t, err, frame.ErrCaptureUnavailable)
		assert.Equal(t, 1, pool.Available())
	})

	t.Run("length past the slot", func(t *testing.T) {
		n := 17
		pool, err := frame.NewPool(frame.PoolConfig{Slots: 1, SlotBytes: 16}, &fakeSensor{length: &n}, zerolog.Nop())
		require.NoError(t, err)

		_, err = pool.Acquire(context.Background())
		assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
		assert.Equal(t, 1, pool.Available())
	})
}

func TestNewPool_Validation(t *testing.T) {
	_, err := frame.NewPool(frame.PoolConfig{Slots: 0, SlotBytes: 16}, &fakeSensor{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = frame.NewPool(frame.PoolConfig{Slots: 1, SlotBytes: 0}, &fakeSensor{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = frame.NewPool(frame.PoolConfig{Slots: 1, SlotBytes: 16}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestDirSensor_CyclesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("second"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.JPEG"), []byte("first"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	sensor, err := frame.NewDirSensor(dir)
	require.NoError(t, err)
	buf := make([]byte, 64)
	ctx := context.Background()

	var got []string
	for i := 0; i < 3; i++ {
		n, err := sensor.Grab(ctx, buf)
		require.NoError(t, err)
		got = append(got, string(buf[:n]))
	}
	assert.Equal(t, []string{"first", "second", "first"}, got)

	_, err = sensor.Grab(ctx, make([]byte, 3))
	assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
}

func TestDirSensor_Empty(t *testing.T) {
	sensor, err := frame.NewDirSensor(t.TempDir())
	require.NoError(t, err)
	_, err = sensor.Grab(context.Background(), make([]byte, 8))
	assert.ErrorIs(t, err, frame.ErrNoFrame)
}

func TestSnapshotSensor(t *testing.T) {
	jpeg := pattern(300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpeg)
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	sensor, err := frame.NewSnapshotSensor(srv.URL+"/snapshot.jpg", 0)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n, err := sensor.Grab(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, jpeg, buf[:n])

	n, err = sensor.Grab(ctx, make([]byte, 300))
	require.NoError(t, err, "an exactly fitting frame is accepted")
	assert.Equal(t, 300, n)

	_, err = sensor.Grab(ctx, make([]byte, 100))
	assert.ErrorIs(t, err, frame.ErrFrameTooLarge)

	missing, err := frame.NewSnapshotSensor(srv.URL+"/missing", 0)
	require.NoError(t, err)
	_, err = missing.Grab(ctx, buf)
	assert.ErrorIs(t, err, frame.ErrNoFrame)
}
