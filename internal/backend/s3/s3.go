// Package s3 is a concrete implementation of the remote.Connection /
// remote.FileHandle contract backed by Amazon S3, using
// github.com/aws/aws-sdk-go-v2/service/s3, .../config and .../credentials
// — the same stack the teacher's internal/storage/s3 package uses for
// object GET/PUT, adapted here from whole-object semantics to the VFD
// layer's append-stream semantics (spec §4.3's remote row).
//
// S3 objects have no native append operation, so a write-opened handle
// buffers appended bytes in memory and re-uploads the whole object on
// Sync/Close/Truncate-reopen. This is the one place this module diverges
// from a "thin adapter": spec §1 treats the remote FS client as an
// out-of-scope collaborator with its own append semantics (the original
// fd.c targets HDFS, which supports true server-side append); an
// S3-backed RemoteFS has to emulate that contract, and this package is
// where that emulation lives, not in internal/backend/remote, which stays
// transport-agnostic.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hhwyt/vfd/internal/backend"
	"github.com/hhwyt/vfd/internal/backend/remote"
)

// Config configures a Connection. AccessKey/SecretKey are optional; when
// empty, the default AWS credential chain is used (env, shared config,
// instance profile), matching config.LoadDefaultConfig's own fallback.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
	AccessKey      string
	SecretKey      string
}

// Connection implements remote.Connection against a single S3 bucket. One
// Connection is created per "host:port" endpoint by the pool's Dialer;
// the endpoint is the protocol's configured ProtocolConfig.Endpoint, or
// "host:port" when none is configured, and Bucket comes from the
// protocol's ProtocolConfig (internal/config).
type Connection struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// Dial constructs a Connection, suitable as an internal/pool.Dialer for
// the "s3" protocol.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Connection, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Connection{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (c *Connection) key(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Open returns a fileHandle for path. Read-opened handles fetch ranges
// lazily on Read; write-opened (always O_APPEND by the time Connection.Open
// is called — remote.Backend.OpenAt forces it) handles buffer appended
// bytes and are flushed by Sync/Close; their position starts at the
// object's current size, as an append stream's does.
func (c *Connection) Open(path string, flags backend.OpenFlags, mode os.FileMode, replica int) (remote.FileHandle, error) {
	key := c.key(path)
	isWrite := flags&(os.O_WRONLY|os.O_RDWR) != 0

	if flags&os.O_CREATE != 0 {
		if _, err := c.client.PutObject(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(nil),
		}); err != nil {
			return nil, fmt.Errorf("s3: create %s: %w", key, err)
		}
	}

	size, err := c.objectSize(key)
	if err != nil && !isWrite {
		return nil, err
	}

	pos := int64(0)
	if isWrite {
		pos = size
	}
	return &fileHandle{conn: c, key: key, isWrite: isWrite, pos: pos, remoteSize: size}, nil
}

func (c *Connection) objectSize(key string) (int64, error) {
	out, err := c.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	if out.ContentLength != nil {
		return *out.ContentLength, nil
	}
	return 0, nil
}

// Truncate re-uploads path as a zero-length or size-truncated object.
// S3 has no partial-object truncate; this reads the current object,
// slices it, and re-PUTs, matching the "out-of-scope collaborator may do
// whatever it needs to" latitude spec §4.3 leaves the remote back-end for
// truncate, so long as the VFD layer's verify-by-tell contract still holds
// afterward.
func (c *Connection) Truncate(path string, size int64) error {
	key := c.key(path)
	ctx := context.Background()

	if size == 0 {
		_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(nil),
		})
		return err
	}

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		return err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return err
	}
	if int64(len(data)) < size {
		return fmt.Errorf("s3: cannot truncate %s to %d bytes, object is only %d bytes", key, size, len(data))
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data[:size]),
	})
	return err
}

// Chmod is a no-op: S3 objects have no POSIX permission bits. Retained as
// part of the Connection contract so the façade's open-for-create sequence
// (sync then chmod) runs unmodified across back-ends.
func (c *Connection) Chmod(path string, mode os.FileMode) error { return nil }

func (c *Connection) Delete(path string) error {
	_, err := c.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(path)),
	})
	return err
}

// Mkdir creates the S3 convention of a zero-byte object with a trailing
// slash key, since S3 has no real directories.
func (c *Connection) Mkdir(path string, mode os.FileMode) error {
	key := c.key(path)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := c.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	return err
}

func (c *Connection) ListDir(path string) ([]backend.Info, error) {
	prefix := c.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	out, err := c.client.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, err
	}

	var infos []backend.Info
	for _, p := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/")
		infos = append(infos, backend.Info{Name: name, IsDir: true})
	}
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		if name == "" {
			continue
		}
		infos = append(infos, backend.Info{Name: name, Size: aws.ToInt64(obj.Size)})
	}
	return infos, nil
}

func (c *Connection) Stat(path string) (backend.Info, error) {
	key := c.key(path)
	size, err := c.objectSize(key)
	if err != nil {
		return backend.Info{}, err
	}
	return backend.Info{Name: key, Size: size}, nil
}

// fileHandle implements remote.FileHandle.
type fileHandle struct {
	conn       *Connection
	key        string
	isWrite    bool
	pos        int64
	remoteSize int64
	pending    bytes.Buffer // appended-but-not-yet-flushed bytes, write handles only
	closed     bool
}

func (h *fileHandle) Read(buf []byte) (int, error) {
	if h.isWrite {
		return 0, fmt.Errorf("s3: handle for %s is write-append, cannot read", h.key)
	}
	end := h.pos + int64(len(buf)) - 1
	out, err := h.conn.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(h.conn.bucket),
		Key:    aws.String(h.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", h.pos, end)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return 0, io.EOF
		}
		return 0, err
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, buf)
	h.pos += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

func (h *fileHandle) Write(buf []byte) (int, error) {
	if !h.isWrite {
		return 0, fmt.Errorf("s3: handle for %s is read-only, cannot write", h.key)
	}
	n, _ := h.pending.Write(buf)
	h.pos += int64(n)
	return n, nil
}

// Seek is never called by remote.Backend for a write-append handle (spec
// §4.3); for a read handle it just updates the logical cursor, the next
// Read issues a fresh ranged GET from there.
func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case backend.SeekSet:
		h.pos = offset
	case backend.SeekCur:
		h.pos += offset
	case backend.SeekEnd:
		size, err := h.conn.objectSize(h.key)
		if err != nil {
			return 0, err
		}
		h.pos = size + offset
	}
	return h.pos, nil
}

func (h *fileHandle) Tell() (int64, error) {
	return h.pos, nil
}

// Sync flushes any pending appended bytes to S3 by re-uploading the full
// object (current remote bytes + pending). This is the emulation this
// package's doc comment names: S3 PUT is whole-object, so "append" means
// "read what's there, then overwrite with the concatenation."
func (h *fileHandle) Sync() error {
	if !h.isWrite || h.pending.Len() == 0 {
		return nil
	}
	ctx := context.Background()

	var existing []byte
	out, err := h.conn.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.conn.bucket),
		Key:    aws.String(h.key),
	})
	if err == nil {
		existing, _ = io.ReadAll(out.Body)
		out.Body.Close()
	}

	combined := append(existing, h.pending.Bytes()...)
	_, err = h.conn.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.conn.bucket),
		Key:    aws.String(h.key),
		Body:   bytes.NewReader(combined),
	})
	if err != nil {
		return err
	}
	h.remoteSize = int64(len(combined))
	h.pending.Reset()
	return nil
}

func (h *fileHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.Sync()
}
