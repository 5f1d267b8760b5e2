package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhwyt/vfd/internal/vfderrors"
)

func TestClassifyLocalPaths(t *testing.T) {
	c, err := Classify("/var/lib/pgsql/base/1/2")
	require.NoError(t, err)
	assert.True(t, c.Local)

	c, err = Classify("local:///some/path")
	require.NoError(t, err)
	assert.True(t, c.Local)
}

func TestClassifyRemotePath(t *testing.T) {
	c, err := Classify("s3://myhost:9000/bucket/object")
	require.NoError(t, err)
	assert.False(t, c.Local)
	assert.Equal(t, "s3", c.Protocol)
	assert.Equal(t, "myhost", c.Host)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, DefaultReplica, c.Replica)
	assert.Equal(t, "/bucket/object", c.UnixPath)
	assert.Equal(t, "myhost:9000", c.Endpoint())
}

func TestClassifyRemotePathWithReplicaOption(t *testing.T) {
	c, err := Classify("hdfs://{replica=5}namenode:8020/user/data/part-0")
	require.NoError(t, err)
	assert.Equal(t, "hdfs", c.Protocol)
	assert.Equal(t, "namenode", c.Host)
	assert.Equal(t, 8020, c.Port)
	assert.Equal(t, 5, c.Replica)
	assert.Equal(t, "/user/data/part-0", c.UnixPath)
}

func TestClassifyRejectsUnterminatedOptionsBlock(t *testing.T) {
	_, err := Classify("hdfs://{replica=5namenode:8020/user/data")
	require.Error(t, err)
	assert.True(t, isInvalidPath(err))
}

func TestClassifyRejectsUnknownOption(t *testing.T) {
	_, err := Classify("hdfs://{bogus=1}namenode:8020/path")
	require.Error(t, err)
	assert.True(t, isInvalidPath(err))
}

func TestClassifyRejectsMissingPort(t *testing.T) {
	_, err := Classify("hdfs://namenode/path")
	require.Error(t, err)
	assert.True(t, isInvalidPath(err))
}

func TestClassifyRejectsMissingUnixPath(t *testing.T) {
	_, err := Classify("hdfs://namenode:8020")
	require.Error(t, err)
	assert.True(t, isInvalidPath(err))
}

func TestConvertToUnixPath(t *testing.T) {
	p, err := ConvertToUnixPath("s3://host:1234/bucket/key")
	require.NoError(t, err)
	assert.Equal(t, "/bucket/key", p)

	p, err = ConvertToUnixPath("/local/path")
	require.NoError(t, err)
	assert.Equal(t, "/local/path", p)
}

func isInvalidPath(err error) bool {
	ve, ok := err.(*vfderrors.Error)
	return ok && ve.Code == vfderrors.CodeInvalidPath
}
