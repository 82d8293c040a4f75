// Package s3 implements a storage engine over Amazon S3 or S3-compatible
// object storage.
//
// Mapping of the namespace onto object keys:
//
//	pool       → bucket (the bucket must already exist)
//	container  → key prefix "<cont>/", marked by "<cont>/.parfs"
//	directory  → marker object "<cont><path>/.dir"
//	file       → object "<cont><path>"
//
// Offset reads use byte-range GETs; offset writes are read-modify-write
// PutObject calls, since object storage has no true random access. S3 has
// no atomic exclusive create either: Open with O_EXCL is check-then-put,
// which is safe under the coordinator-creates protocol that already
// serializes creators, but is not a standalone mutual-exclusion primitive.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	gopath "path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dfsio/parfs/pkg/engine"
)

const (
	containerMarker = ".parfs"
	dirMarker       = ".dir"
)

// ============================================================================
// Engine
// ============================================================================

// Engine is an engine over one S3 client. The pool identifier passed to
// Connect selects the bucket.
type Engine struct {
	client *s3.Client
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine over a configured S3 client.
func New(client *s3.Client) *Engine {
	return &Engine{client: client}
}

func (e *Engine) Name() string { return "s3" }

func (e *Engine) Init(ctx context.Context) error {
	if e.client == nil {
		return engine.NewError(engine.ErrConfig, "S3 client is required")
	}
	return nil
}

func (e *Engine) Fini(ctx context.Context) error {
	return nil
}

func (e *Engine) Connect(ctx context.Context, pool, group, serviceLocator string) (engine.Pool, error) {
	if pool == "" {
		return nil, engine.NewError(engine.ErrInvalidArgument, "pool (bucket) identifier is required")
	}

	_, err := e.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(pool)})
	if err != nil {
		return nil, engine.NewError(engine.ErrConnect, fmt.Sprintf("bucket %q is not accessible: %v", pool, err))
	}
	return &Pool{eng: e, bucket: pool}, nil
}

func (e *Engine) AttachPool(ctx context.Context, global []byte) (engine.Pool, error) {
	h, err := engine.DecodeHandle(global, e.Name(), engine.PoolHandle)
	if err != nil {
		return nil, err
	}
	return e.Connect(ctx, h.Pool, "", "")
}

// ============================================================================
// Pool
// ============================================================================

// Pool is a connection to one bucket.
type Pool struct {
	eng    *Engine
	bucket string
}

var _ engine.Pool = (*Pool)(nil)

func (p *Pool) Handle(ctx context.Context) ([]byte, error) {
	return engine.EncodeHandle(&engine.GlobalHandle{
		Engine: p.eng.Name(),
		Kind:   engine.PoolHandle,
		Pool:   p.bucket,
	})
}

// keyExists reports whether an object with exactly this key is present.
// ListObjectsV2 is used instead of HeadObject so missing keys never surface
// as typed API errors that would need per-service unwrapping.
func (p *Pool) keyExists(ctx context.Context, key string) (bool, int64, error) {
	out, err := p.eng.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, 0, fmt.Errorf("list %q: %w", key, err)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) == key {
			return true, aws.ToInt64(obj.Size), nil
		}
	}
	return false, 0, nil
}

// prefixExists reports whether any object lives under the prefix.
func (p *Pool) prefixExists(ctx context.Context, prefix string) (bool, error) {
	out, err := p.eng.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list prefix %q: %w", prefix, err)
	}
	return len(out.Contents) > 0, nil
}

func (p *Pool) put(ctx context.Context, key string, data []byte) error {
	_, err := p.eng.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (p *Pool) OpenContainer(ctx context.Context, id string) (engine.Container, error) {
	ok, _, err := p.keyExists(ctx, id+"/"+containerMarker)
	if err != nil {
		return nil, engine.NewError(engine.ErrIO, err.Error())
	}
	if !ok {
		return nil, engine.NewError(engine.ErrNotFound, fmt.Sprintf("container %q not found", id))
	}
	return &Container{pool: p, id: id}, nil
}

func (p *Pool) CreateContainer(ctx context.Context, id string) error {
	if id == "" || strings.Contains(id, "/") {
		return engine.NewError(engine.ErrInvalidArgument, fmt.Sprintf("invalid container identifier %q", id))
	}

	ok, _, err := p.keyExists(ctx, id+"/"+containerMarker)
	if err != nil {
		return engine.NewError(engine.ErrIO, err.Error())
	}
	if ok {
		return engine.NewError(engine.ErrAlreadyExists, fmt.Sprintf("container %q already exists", id))
	}
	if err := p.put(ctx, id+"/"+containerMarker, nil); err != nil {
		return engine.NewError(engine.ErrIO, err.Error())
	}
	return nil
}

func (p *Pool) DestroyContainer(ctx context.Context, id string) error {
	ok, _, err := p.keyExists(ctx, id+"/"+containerMarker)
	if err != nil {
		return engine.NewError(engine.ErrIO, err.Error())
	}
	if !ok {
		return engine.NewError(engine.ErrNotFound, fmt.Sprintf("container %q not found", id))
	}

	// Page through everything under the container prefix and batch-delete.
	var token *string
	for {
		out, lerr := p.eng.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(id + "/"),
			ContinuationToken: token,
		})
		if lerr != nil {
			return engine.NewError(engine.ErrIO, fmt.Sprintf("list container %q: %v", id, lerr))
		}
		if len(out.Contents) > 0 {
			ids := make([]types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			if _, derr := p.eng.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(p.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			}); derr != nil {
				return engine.NewError(engine.ErrIO, fmt.Sprintf("destroy container %q: %v", id, derr))
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

func (p *Pool) AttachContainer(ctx context.Context, global []byte) (engine.Container, error) {
	h, err := engine.DecodeHandle(global, p.eng.Name(), engine.ContainerHandle)
	if err != nil {
		return nil, err
	}
	if h.Pool != p.bucket {
		return nil, engine.NewError(engine.ErrInvalidArgument,
			fmt.Sprintf("container handle belongs to bucket %q, connected to %q", h.Pool, p.bucket))
	}
	return p.OpenContainer(ctx, h.ID)
}

func (p *Pool) Disconnect(ctx context.Context) error {
	return nil
}

// ============================================================================
// Container and Mount
// ============================================================================

// Container is an open handle to one container prefix.
type Container struct {
	pool *Pool
	id   string
}

var _ engine.Container = (*Container)(nil)

func (c *Container) Handle(ctx context.Context) ([]byte, error) {
	return engine.EncodeHandle(&engine.GlobalHandle{
		Engine: c.pool.eng.Name(),
		Kind:   engine.ContainerHandle,
		Pool:   c.pool.bucket,
		ID:     c.id,
	})
}

func (c *Container) Mount(ctx context.Context) (engine.Mount, error) {
	return &Mount{pool: c.pool, cont: c.id}, nil
}

func (c *Container) Close(ctx context.Context) error {
	return nil
}

// Mount is the filesystem view of one container prefix.
type Mount struct {
	pool *Pool
	cont string
}

var _ engine.Mount = (*Mount)(nil)

// key maps an absolute namespace path to the object key.
func (m *Mount) key(path string) string {
	path = gopath.Clean("/" + strings.Trim(path, "/"))
	if path == "/" {
		return m.cont
	}
	return m.cont + path
}

func (m *Mount) Lookup(ctx context.Context, path string) (engine.Object, error) {
	path = gopath.Clean("/" + strings.Trim(path, "/"))
	if path == "/" {
		return &Object{mount: m, path: "/", dir: true}, nil
	}

	key := m.key(path)
	ok, _, err := m.pool.keyExists(ctx, key)
	if err != nil {
		return nil, engine.NewError(engine.ErrIO, err.Error())
	}
	if ok {
		return &Object{mount: m, path: path}, nil
	}

	// No object at the key; a directory marker or any descendant key means
	// the path names a directory.
	dir, err := m.pool.prefixExists(ctx, key+"/")
	if err != nil {
		return nil, engine.NewError(engine.ErrIO, err.Error())
	}
	if dir {
		return &Object{mount: m, path: path, dir: true}, nil
	}
	return nil, engine.NewPathError(engine.ErrNotFound, "no such object", path)
}

func (m *Mount) childPath(parent engine.Object, name string) (string, error) {
	obj, ok := parent.(*Object)
	if !ok {
		return "", engine.NewError(engine.ErrInvalidArgument, "invalid parent handle")
	}
	if !obj.dir {
		return "", engine.NewError(engine.ErrInvalidArgument, "parent is not a directory")
	}
	if name == "" || strings.Contains(name, "/") {
		return "", engine.NewError(engine.ErrInvalidArgument, fmt.Sprintf("invalid object name %q", name))
	}
	return gopath.Join(obj.path, name), nil
}

func (m *Mount) Open(ctx context.Context, parent engine.Object, name string, mode fs.FileMode, flags int) (engine.Object, error) {
	path, err := m.childPath(parent, name)
	if err != nil {
		return nil, err
	}
	key := m.key(path)

	exists, _, err := m.pool.keyExists(ctx, key)
	if err != nil {
		return nil, engine.NewError(engine.ErrIO, err.Error())
	}

	switch {
	case exists && flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0:
		return nil, engine.NewPathError(engine.ErrAlreadyExists, "object already exists", path)
	case !exists && flags&os.O_CREATE == 0:
		return nil, engine.NewPathError(engine.ErrNotFound, "no such object", path)
	case !exists:
		if err := m.pool.put(ctx, key, nil); err != nil {
			return nil, engine.NewError(engine.ErrIO, err.Error())
		}
	}
	return &Object{mount: m, path: path}, nil
}

func (m *Mount) Remove(ctx context.Context, parent engine.Object, name string) error {
	path, err := m.childPath(parent, name)
	if err != nil {
		return err
	}
	key := m.key(path)

	exists, _, err := m.pool.keyExists(ctx, key)
	if err != nil {
		return engine.NewError(engine.ErrIO, err.Error())
	}
	if !exists {
		// Directories exist as marker objects.
		exists, _, err = m.pool.keyExists(ctx, key+"/"+dirMarker)
		if err != nil {
			return engine.NewError(engine.ErrIO, err.Error())
		}
		if !exists {
			return engine.NewPathError(engine.ErrNotFound, "no such object", path)
		}
		key = key + "/" + dirMarker
	}

	if _, derr := m.pool.eng.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.pool.bucket),
		Key:    aws.String(key),
	}); derr != nil {
		return engine.NewError(engine.ErrIO, fmt.Sprintf("delete %q: %v", path, derr))
	}
	return nil
}

func (m *Mount) Mkdir(ctx context.Context, parent engine.Object, name string, mode fs.FileMode) error {
	path, err := m.childPath(parent, name)
	if err != nil {
		return err
	}
	key := m.key(path)

	exists, _, err := m.pool.keyExists(ctx, key)
	if err != nil {
		return engine.NewError(engine.ErrIO, err.Error())
	}
	if !exists {
		exists, err = m.pool.prefixExists(ctx, key+"/")
		if err != nil {
			return engine.NewError(engine.ErrIO, err.Error())
		}
	}
	if exists {
		return engine.NewPathError(engine.ErrAlreadyExists, "object already exists", path)
	}

	if err := m.pool.put(ctx, key+"/"+dirMarker, nil); err != nil {
		return engine.NewError(engine.ErrIO, err.Error())
	}
	return nil
}

func (m *Mount) Stat(ctx context.Context, parent engine.Object, name string) (*engine.ObjectInfo, error) {
	obj, ok := parent.(*Object)
	if !ok {
		return nil, engine.NewError(engine.ErrInvalidArgument, "invalid parent handle")
	}

	path := obj.path
	if name != "" {
		var err error
		path, err = m.childPath(parent, name)
		if err != nil {
			return nil, err
		}
	}

	if path == "/" {
		return &engine.ObjectInfo{Name: "/", Mode: fs.ModeDir | 0o755, ModTime: time.Now()}, nil
	}

	key := m.key(path)
	exists, size, err := m.pool.keyExists(ctx, key)
	if err != nil {
		return nil, engine.NewError(engine.ErrIO, err.Error())
	}
	if exists {
		return &engine.ObjectInfo{
			Name:    gopath.Base(path),
			Size:    size,
			Mode:    0o644,
			ModTime: time.Now(),
		}, nil
	}

	dir, err := m.pool.prefixExists(ctx, key+"/")
	if err != nil {
		return nil, engine.NewError(engine.ErrIO, err.Error())
	}
	if dir {
		return &engine.ObjectInfo{
			Name:    gopath.Base(path),
			Mode:    fs.ModeDir | 0o755,
			ModTime: time.Now(),
		}, nil
	}
	return nil, engine.NewPathError(engine.ErrNotFound, "no such object", path)
}

func (m *Mount) Sync(ctx context.Context) error {
	// PutObject is durable on return; there is nothing buffered to flush.
	return nil
}

func (m *Mount) Unmount(ctx context.Context) error {
	return nil
}

// ============================================================================
// Object
// ============================================================================

// Object is an open handle to one key (or directory prefix).
type Object struct {
	mount *Mount
	path  string
	dir   bool
}

var _ engine.Object = (*Object)(nil)

func (o *Object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, engine.NewError(engine.ErrInvalidArgument, "negative offset")
	}

	// Clamp to the current size first: a byte-range GET past the end is an
	// API error, while the transfer contract wants a zero-count read.
	size, err := o.Size(ctx)
	if err != nil {
		return 0, err
	}
	if off >= size {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > size {
		end = size
	}

	key := o.mount.key(o.path)
	out, err := o.mount.pool.eng.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.mount.pool.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end-1)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return 0, engine.NewPathError(engine.ErrNotFound, "no such object", o.path)
		}
		return 0, engine.NewError(engine.ErrIO, fmt.Sprintf("read %q: %v", o.path, err))
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:end-off])
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, engine.NewError(engine.ErrIO, fmt.Sprintf("read body of %q: %v", o.path, err))
	}
	return n, nil
}

func (o *Object) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, engine.NewError(engine.ErrInvalidArgument, "negative offset")
	}

	key := o.mount.key(o.path)

	// Read-modify-write: object storage cannot patch a byte range in
	// place, and a plain put would truncate any bytes past the range.
	var data []byte
	out, err := o.mount.pool.eng.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.mount.pool.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if !errors.As(err, &notFound) {
			return 0, engine.NewError(engine.ErrIO, fmt.Sprintf("read-modify-write of %q: %v", o.path, err))
		}
	} else {
		data, err = io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return 0, engine.NewError(engine.ErrIO, fmt.Sprintf("read-modify-write of %q: %v", o.path, err))
		}
	}

	end := off + int64(len(p))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[off:end], p)

	if err := o.mount.pool.put(ctx, key, data); err != nil {
		return 0, engine.NewError(engine.ErrIO, err.Error())
	}
	return len(p), nil
}

func (o *Object) Size(ctx context.Context) (int64, error) {
	_, size, err := o.mount.pool.keyExists(ctx, o.mount.key(o.path))
	if err != nil {
		return 0, engine.NewError(engine.ErrIO, err.Error())
	}
	return size, nil
}

func (o *Object) Close(ctx context.Context) error {
	return nil
}
