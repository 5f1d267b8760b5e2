package pool

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhwyt/vfd/internal/backend"
	"github.com/hhwyt/vfd/internal/backend/remote"
	"github.com/hhwyt/vfd/internal/metrics"
)

type fakeFileHandle struct{}

func (fakeFileHandle) Read(buf []byte) (int, error)            { return 0, nil }
func (fakeFileHandle) Write(buf []byte) (int, error)           { return len(buf), nil }
func (fakeFileHandle) Seek(offset int64, whence int) (int64, error) { return 0, nil }
func (fakeFileHandle) Tell() (int64, error)                    { return 0, nil }
func (fakeFileHandle) Sync() error                             { return nil }
func (fakeFileHandle) Close() error                            { return nil }

type fakeConnection struct{ id int }

func (c *fakeConnection) Open(path string, flags backend.OpenFlags, mode os.FileMode, replica int) (remote.FileHandle, error) {
	return fakeFileHandle{}, nil
}
func (c *fakeConnection) Truncate(path string, size int64) error          { return nil }
func (c *fakeConnection) Chmod(path string, mode os.FileMode) error       { return nil }
func (c *fakeConnection) Delete(path string) error                       { return nil }
func (c *fakeConnection) Mkdir(path string, mode os.FileMode) error       { return nil }
func (c *fakeConnection) ListDir(path string) ([]backend.Info, error)     { return nil, nil }
func (c *fakeConnection) Stat(path string) (backend.Info, error)          { return backend.Info{}, nil }

func TestGetDialsOnceAndReusesConnection(t *testing.T) {
	dials := 0
	dialer := func(ctx context.Context, protocol, host string, port int) (remote.Connection, error) {
		dials++
		return &fakeConnection{id: dials}, nil
	}
	p := New(dialer, nil)

	c1, err := p.Get("s3", "host", 9000)
	require.NoError(t, err)
	c2, err := p.Get("s3", "host", 9000)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, p.Len())
}

func TestGetKeysByHostPortIgnoringProtocol(t *testing.T) {
	dials := 0
	dialer := func(ctx context.Context, protocol, host string, port int) (remote.Connection, error) {
		dials++
		return &fakeConnection{id: dials}, nil
	}
	p := New(dialer, nil)

	_, err := p.Get("s3", "host", 9000)
	require.NoError(t, err)
	_, err = p.Get("hdfs", "host", 9000)
	require.NoError(t, err)

	assert.Equal(t, 1, dials)
}

func TestGetFailsWithoutDialer(t *testing.T) {
	p := New(nil, nil)
	_, err := p.Get("s3", "host", 9000)
	assert.Error(t, err)
}

func TestGetPropagatesDialError(t *testing.T) {
	wantErr := errors.New("dial failed")
	dialer := func(ctx context.Context, protocol, host string, port int) (remote.Connection, error) {
		return nil, wantErr
	}
	p := New(dialer, nil)

	_, err := p.Get("s3", "host", 9000)
	assert.Error(t, err)
}

func TestGetUpdatesMetricsOnSuccessfulDial(t *testing.T) {
	dialer := func(ctx context.Context, protocol, host string, port int) (remote.Connection, error) {
		return &fakeConnection{}, nil
	}
	m := metrics.New(nil)
	p := New(dialer, m)

	_, err := p.Get("s3", "host", 9000)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}
