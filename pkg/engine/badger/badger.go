// Package badger implements a persistent storage engine backed by BadgerDB.
//
// One DB directory is the deployment unit: it holds every pool, container,
// and object under namespaced key prefixes. Workers in the same process
// share one Engine value over one DB handle; global handles attach by
// identifier lookup, the same way the memory engine does.
//
// Storage model (one key space, prefix per record type):
//
//	pool/<pool>                 pool marker
//	cont/<pool>/<cont>          container marker
//	meta/<pool>/<cont><path>    object attributes (XDR-encoded)
//	data/<pool>/<cont><path>    object bytes
//
// Offset reads and writes are read-modify-write inside one transaction.
// That is adequate for a benchmark-scale backend; it is not a page store.
package badger

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	gopath "path"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/dfsio/parfs/pkg/engine"
)

// objectMeta is the persisted attribute record for one object.
type objectMeta struct {
	Dir       bool
	Mode      uint32
	MtimeUnix int64
}

func encodeMeta(m *objectMeta) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, m); err != nil {
		return nil, fmt.Errorf("encode object meta: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMeta(data []byte) (*objectMeta, error) {
	var m objectMeta
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &m); err != nil {
		return nil, fmt.Errorf("decode object meta: %w", err)
	}
	return &m, nil
}

func poolKey(pool string) []byte { return []byte("pool/" + pool) }

func contKey(pool, cont string) []byte { return []byte("cont/" + pool + "/" + cont) }

func metaKey(pool, cont, path string) []byte { return []byte("meta/" + pool + "/" + cont + path) }

func dataKey(pool, cont, path string) []byte { return []byte("data/" + pool + "/" + cont + path) }

// ============================================================================
// Engine
// ============================================================================

// Engine is a persistent engine over one BadgerDB handle.
type Engine struct {
	db *badger.DB

	mu          sync.Mutex
	initialized bool
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine over an already-open DB.
func New(db *badger.DB) *Engine {
	return &Engine{db: db}
}

// Open opens the DB directory and creates an engine over it.
func Open(dir string) (*Engine, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database at %q: %w", dir, err)
	}
	return New(db), nil
}

func (e *Engine) Name() string { return "badger" }

func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = true
	return nil
}

func (e *Engine) Fini(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	return nil
}

// Close releases the underlying DB. Callers that used Open should Close
// once the run is over; Fini does not close the shared DB because peers in
// the same process may still hold it.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Connect materializes the pool marker on first use and returns a pool
// connection. The DB directory is the provisioning boundary, so an
// unreachable pool means an unopenable directory, reported by Open.
func (e *Engine) Connect(ctx context.Context, pool, group, serviceLocator string) (engine.Pool, error) {
	if pool == "" {
		return nil, engine.NewError(engine.ErrInvalidArgument, "pool identifier is required")
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		_, gerr := txn.Get(poolKey(pool))
		if gerr == badger.ErrKeyNotFound {
			return txn.Set(poolKey(pool), []byte{1})
		}
		return gerr
	})
	if err != nil {
		return nil, engine.NewError(engine.ErrConnect, fmt.Sprintf("connect to pool %q: %v", pool, err))
	}
	return &Pool{eng: e, id: pool}, nil
}

func (e *Engine) AttachPool(ctx context.Context, global []byte) (engine.Pool, error) {
	h, err := engine.DecodeHandle(global, e.Name(), engine.PoolHandle)
	if err != nil {
		return nil, err
	}

	err = e.db.View(func(txn *badger.Txn) error {
		_, gerr := txn.Get(poolKey(h.Pool))
		return gerr
	})
	if err != nil {
		return nil, engine.NewError(engine.ErrConnect, fmt.Sprintf("pool %q not found", h.Pool))
	}
	return &Pool{eng: e, id: h.Pool}, nil
}

// ============================================================================
// Pool
// ============================================================================

// Pool is a connection to one pool in the DB.
type Pool struct {
	eng *Engine
	id  string
}

var _ engine.Pool = (*Pool)(nil)

func (p *Pool) Handle(ctx context.Context) ([]byte, error) {
	return engine.EncodeHandle(&engine.GlobalHandle{
		Engine: p.eng.Name(),
		Kind:   engine.PoolHandle,
		Pool:   p.id,
	})
}

func (p *Pool) OpenContainer(ctx context.Context, id string) (engine.Container, error) {
	err := p.eng.db.View(func(txn *badger.Txn) error {
		_, gerr := txn.Get(contKey(p.id, id))
		return gerr
	})
	if err == badger.ErrKeyNotFound {
		return nil, engine.NewError(engine.ErrNotFound, fmt.Sprintf("container %q not found", id))
	}
	if err != nil {
		return nil, engine.NewError(engine.ErrIO, fmt.Sprintf("open container %q: %v", id, err))
	}
	return &Container{pool: p, id: id}, nil
}

func (p *Pool) CreateContainer(ctx context.Context, id string) error {
	if id == "" {
		return engine.NewError(engine.ErrInvalidArgument, "container identifier is required")
	}

	err := p.eng.db.Update(func(txn *badger.Txn) error {
		if _, gerr := txn.Get(contKey(p.id, id)); gerr == nil {
			return engine.NewError(engine.ErrAlreadyExists, fmt.Sprintf("container %q already exists", id))
		} else if gerr != badger.ErrKeyNotFound {
			return gerr
		}
		if serr := txn.Set(contKey(p.id, id), []byte{1}); serr != nil {
			return serr
		}

		// Root directory meta, so Lookup("/") succeeds immediately.
		meta, merr := encodeMeta(&objectMeta{Dir: true, Mode: 0o755, MtimeUnix: time.Now().Unix()})
		if merr != nil {
			return merr
		}
		return txn.Set(metaKey(p.id, id, "/"), meta)
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return err
		}
		return engine.NewError(engine.ErrIO, fmt.Sprintf("create container %q: %v", id, err))
	}
	return nil
}

func (p *Pool) DestroyContainer(ctx context.Context, id string) error {
	exists := false
	err := p.eng.db.Update(func(txn *badger.Txn) error {
		if _, gerr := txn.Get(contKey(p.id, id)); gerr == badger.ErrKeyNotFound {
			return nil
		} else if gerr != nil {
			return gerr
		}
		exists = true

		if derr := txn.Delete(contKey(p.id, id)); derr != nil {
			return derr
		}
		for _, prefix := range [][]byte{metaKey(p.id, id, "/"), dataKey(p.id, id, "/")} {
			if derr := deletePrefix(txn, prefix); derr != nil {
				return derr
			}
		}
		return nil
	})
	if err != nil {
		return engine.NewError(engine.ErrIO, fmt.Sprintf("destroy container %q: %v", id, err))
	}
	if !exists {
		return engine.NewError(engine.ErrNotFound, fmt.Sprintf("container %q not found", id))
	}
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) AttachContainer(ctx context.Context, global []byte) (engine.Container, error) {
	h, err := engine.DecodeHandle(global, p.eng.Name(), engine.ContainerHandle)
	if err != nil {
		return nil, err
	}
	if h.Pool != p.id {
		return nil, engine.NewError(engine.ErrInvalidArgument,
			fmt.Sprintf("container handle belongs to pool %q, connected to %q", h.Pool, p.id))
	}
	return p.OpenContainer(ctx, h.ID)
}

func (p *Pool) Disconnect(ctx context.Context) error {
	return nil
}

// ============================================================================
// Container and Mount
// ============================================================================

// Container is an open handle to one container in the DB.
type Container struct {
	pool *Pool
	id   string
}

var _ engine.Container = (*Container)(nil)

func (c *Container) Handle(ctx context.Context) ([]byte, error) {
	return engine.EncodeHandle(&engine.GlobalHandle{
		Engine: c.pool.eng.Name(),
		Kind:   engine.ContainerHandle,
		Pool:   c.pool.id,
		ID:     c.id,
	})
}

func (c *Container) Mount(ctx context.Context) (engine.Mount, error) {
	return &Mount{eng: c.pool.eng, pool: c.pool.id, cont: c.id}, nil
}

func (c *Container) Close(ctx context.Context) error {
	return nil
}

// Mount is the filesystem view of one container.
type Mount struct {
	eng  *Engine
	pool string
	cont string
}

var _ engine.Mount = (*Mount)(nil)

func normalize(p string) string {
	p = gopath.Clean("/" + strings.Trim(p, "/"))
	return p
}

func (m *Mount) getMeta(txn *badger.Txn, path string) (*objectMeta, error) {
	item, err := txn.Get(metaKey(m.pool, m.cont, path))
	if err == badger.ErrKeyNotFound {
		return nil, engine.NewPathError(engine.ErrNotFound, "no such object", path)
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeMeta(raw)
}

func (m *Mount) Lookup(ctx context.Context, path string) (engine.Object, error) {
	path = normalize(path)

	var meta *objectMeta
	err := m.eng.db.View(func(txn *badger.Txn) error {
		var gerr error
		meta, gerr = m.getMeta(txn, path)
		return gerr
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return nil, err
		}
		return nil, engine.NewError(engine.ErrIO, fmt.Sprintf("lookup %q: %v", path, err))
	}
	return &Object{mount: m, path: path, dir: meta.Dir}, nil
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

	err = m.eng.db.Update(func(txn *badger.Txn) error {
		meta, gerr := m.getMeta(txn, path)
		switch {
		case gerr == nil:
			if flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0 {
				return engine.NewPathError(engine.ErrAlreadyExists, "object already exists", path)
			}
			if meta.Dir {
				return engine.NewPathError(engine.ErrInvalidArgument, "object is a directory", path)
			}
			return nil
		case engine.IsNotFound(gerr) && flags&os.O_CREATE != 0:
			raw, merr := encodeMeta(&objectMeta{
				Dir:       false,
				Mode:      uint32(mode.Perm()),
				MtimeUnix: time.Now().Unix(),
			})
			if merr != nil {
				return merr
			}
			if serr := txn.Set(metaKey(m.pool, m.cont, path), raw); serr != nil {
				return serr
			}
			return txn.Set(dataKey(m.pool, m.cont, path), nil)
		default:
			return gerr
		}
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return nil, err
		}
		return nil, engine.NewError(engine.ErrIO, fmt.Sprintf("open %q: %v", path, err))
	}
	return &Object{mount: m, path: path}, nil
}

func (m *Mount) Remove(ctx context.Context, parent engine.Object, name string) error {
	path, err := m.childPath(parent, name)
	if err != nil {
		return err
	}

	err = m.eng.db.Update(func(txn *badger.Txn) error {
		if _, gerr := m.getMeta(txn, path); gerr != nil {
			return gerr
		}
		if derr := txn.Delete(metaKey(m.pool, m.cont, path)); derr != nil {
			return derr
		}
		if derr := txn.Delete(dataKey(m.pool, m.cont, path)); derr != nil {
			return derr
		}
		// Children of a removed directory go with it.
		for _, prefix := range [][]byte{metaKey(m.pool, m.cont, path+"/"), dataKey(m.pool, m.cont, path+"/")} {
			if derr := deletePrefix(txn, prefix); derr != nil {
				return derr
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return err
		}
		return engine.NewError(engine.ErrIO, fmt.Sprintf("remove %q: %v", path, err))
	}
	return nil
}

func (m *Mount) Mkdir(ctx context.Context, parent engine.Object, name string, mode fs.FileMode) error {
	path, err := m.childPath(parent, name)
	if err != nil {
		return err
	}

	err = m.eng.db.Update(func(txn *badger.Txn) error {
		if _, gerr := m.getMeta(txn, path); gerr == nil {
			return engine.NewPathError(engine.ErrAlreadyExists, "object already exists", path)
		} else if !engine.IsNotFound(gerr) {
			return gerr
		}
		raw, merr := encodeMeta(&objectMeta{
			Dir:       true,
			Mode:      uint32(mode.Perm()),
			MtimeUnix: time.Now().Unix(),
		})
		if merr != nil {
			return merr
		}
		return txn.Set(metaKey(m.pool, m.cont, path), raw)
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return err
		}
		return engine.NewError(engine.ErrIO, fmt.Sprintf("mkdir %q: %v", path, err))
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

	var info *engine.ObjectInfo
	err := m.eng.db.View(func(txn *badger.Txn) error {
		meta, gerr := m.getMeta(txn, path)
		if gerr != nil {
			return gerr
		}

		var size int64
		if !meta.Dir {
			item, derr := txn.Get(dataKey(m.pool, m.cont, path))
			if derr != nil && derr != badger.ErrKeyNotFound {
				return derr
			}
			if derr == nil {
				size = int64(item.ValueSize())
			}
		}

		mode := fs.FileMode(meta.Mode)
		if meta.Dir {
			mode |= fs.ModeDir
		}
		info = &engine.ObjectInfo{
			Name:    gopath.Base(path),
			Size:    size,
			Mode:    mode,
			ModTime: time.Unix(meta.MtimeUnix, 0),
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return nil, err
		}
		return nil, engine.NewError(engine.ErrIO, fmt.Sprintf("stat %q: %v", path, err))
	}
	return info, nil
}

func (m *Mount) Sync(ctx context.Context) error {
	if err := m.eng.db.Sync(); err != nil {
		return engine.NewError(engine.ErrIO, fmt.Sprintf("sync: %v", err))
	}
	return nil
}

func (m *Mount) Unmount(ctx context.Context) error {
	return nil
}

// ============================================================================
// Object
// ============================================================================

// Object is an open handle to one object in the DB.
type Object struct {
	mount *Mount
	path  string
	dir   bool
}

var _ engine.Object = (*Object)(nil)

func (o *Object) key() []byte {
	return dataKey(o.mount.pool, o.mount.cont, o.path)
}

func (o *Object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, engine.NewError(engine.ErrInvalidArgument, "negative offset")
	}

	var n int
	err := o.mount.eng.db.View(func(txn *badger.Txn) error {
		item, gerr := txn.Get(o.key())
		if gerr == badger.ErrKeyNotFound {
			return engine.NewPathError(engine.ErrNotFound, "no such object", o.path)
		}
		if gerr != nil {
			return gerr
		}
		data, verr := item.ValueCopy(nil)
		if verr != nil {
			return verr
		}
		if off >= int64(len(data)) {
			return nil
		}
		n = copy(p, data[off:])
		return nil
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return 0, err
		}
		return 0, engine.NewError(engine.ErrIO, fmt.Sprintf("read %q: %v", o.path, err))
	}
	return n, nil
}

func (o *Object) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, engine.NewError(engine.ErrInvalidArgument, "negative offset")
	}

	err := o.mount.eng.db.Update(func(txn *badger.Txn) error {
		var data []byte
		item, gerr := txn.Get(o.key())
		if gerr != nil && gerr != badger.ErrKeyNotFound {
			return gerr
		}
		if gerr == nil {
			var verr error
			data, verr = item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
		}

		end := off + int64(len(p))
		if end > int64(len(data)) {
			grown := make([]byte, end)
			copy(grown, data)
			data = grown
		}
		copy(data[off:end], p)
		return txn.Set(o.key(), data)
	})
	if err != nil {
		return 0, engine.NewError(engine.ErrIO, fmt.Sprintf("write %q: %v", o.path, err))
	}
	return len(p), nil
}

func (o *Object) Size(ctx context.Context) (int64, error) {
	var size int64
	err := o.mount.eng.db.View(func(txn *badger.Txn) error {
		item, gerr := txn.Get(o.key())
		if gerr == badger.ErrKeyNotFound {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		size = int64(item.ValueSize())
		return nil
	})
	if err != nil {
		return 0, engine.NewError(engine.ErrIO, fmt.Sprintf("size of %q: %v", o.path, err))
	}
	return size, nil
}

func (o *Object) Close(ctx context.Context) error {
	return nil
}
