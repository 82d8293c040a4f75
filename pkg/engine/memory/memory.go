// Package memory implements an in-memory storage engine.
//
// The Store type simulates the remote side of the namespace: one Store is
// shared by every worker in the process, while each worker holds its own
// Engine value over it. Global handles therefore attach by identifier
// lookup against the shared Store. This is the engine used by local
// benchmark runs and by the protocol tests.
package memory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dfsio/parfs/pkg/engine"
)

// ============================================================================
// Shared namespace
// ============================================================================

// Store is the simulated remote namespace: pools of containers of objects.
//
// Thread Safety:
// All access goes through a single read-write mutex. Coarse-grained locking
// keeps the concurrent-create semantics easy to reason about; the engine is
// a test and local-run backend, not a throughput-critical one.
type Store struct {
	mu    sync.RWMutex
	pools map[string]*poolState
}

type poolState struct {
	id         string
	containers map[string]*containerState
}

type containerState struct {
	id   string
	root *node
}

type node struct {
	name     string
	mode     fs.FileMode
	mtime    time.Time
	children map[string]*node // non-nil for directories
	data     []byte
}

func (n *node) isDir() bool { return n.children != nil }

// NewStore creates an empty namespace.
func NewStore() *Store {
	return &Store{pools: make(map[string]*poolState)}
}

// ProvisionPool creates a pool. Pools are provisioned out of band, the way
// a storage administrator would; Connect never creates them.
func (s *Store) ProvisionPool(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[id]; ok {
		return engine.NewError(engine.ErrAlreadyExists, fmt.Sprintf("pool %q already provisioned", id))
	}
	s.pools[id] = &poolState{id: id, containers: make(map[string]*containerState)}
	return nil
}

func newRoot() *node {
	return &node{
		name:     "/",
		mode:     fs.ModeDir | 0o755,
		mtime:    time.Now(),
		children: make(map[string]*node),
	}
}

// ============================================================================
// Engine
// ============================================================================

// Engine is one worker's client runtime over a shared Store.
type Engine struct {
	store *Store

	mu          sync.Mutex
	initialized bool
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine over the shared store.
func New(store *Store) *Engine {
	return &Engine{store: store}
}

func (e *Engine) Name() string { return "memory" }

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

func (e *Engine) requireInit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return engine.NewError(engine.ErrConnect, "engine runtime not initialized")
	}
	return nil
}

func (e *Engine) Connect(ctx context.Context, pool, group, serviceLocator string) (engine.Pool, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	if pool == "" {
		return nil, engine.NewError(engine.ErrInvalidArgument, "pool identifier is required")
	}

	e.store.mu.RLock()
	p, ok := e.store.pools[pool]
	e.store.mu.RUnlock()
	if !ok {
		return nil, engine.NewError(engine.ErrConnect, fmt.Sprintf("pool %q not found", pool))
	}
	return &Pool{eng: e, state: p}, nil
}

func (e *Engine) AttachPool(ctx context.Context, global []byte) (engine.Pool, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}

	h, err := engine.DecodeHandle(global, e.Name(), engine.PoolHandle)
	if err != nil {
		return nil, err
	}

	e.store.mu.RLock()
	p, ok := e.store.pools[h.Pool]
	e.store.mu.RUnlock()
	if !ok {
		return nil, engine.NewError(engine.ErrConnect, fmt.Sprintf("pool %q not found", h.Pool))
	}
	return &Pool{eng: e, state: p}, nil
}

// ============================================================================
// Pool
// ============================================================================

// Pool is a connection to one in-memory pool.
type Pool struct {
	eng   *Engine
	state *poolState
}

var _ engine.Pool = (*Pool)(nil)

func (p *Pool) Handle(ctx context.Context) ([]byte, error) {
	return engine.EncodeHandle(&engine.GlobalHandle{
		Engine: p.eng.Name(),
		Kind:   engine.PoolHandle,
		Pool:   p.state.id,
	})
}

func (p *Pool) OpenContainer(ctx context.Context, id string) (engine.Container, error) {
	p.eng.store.mu.RLock()
	c, ok := p.state.containers[id]
	p.eng.store.mu.RUnlock()
	if !ok {
		return nil, engine.NewError(engine.ErrNotFound, fmt.Sprintf("container %q not found", id))
	}
	return &Container{pool: p, state: c}, nil
}

func (p *Pool) CreateContainer(ctx context.Context, id string) error {
	if id == "" {
		return engine.NewError(engine.ErrInvalidArgument, "container identifier is required")
	}

	p.eng.store.mu.Lock()
	defer p.eng.store.mu.Unlock()

	if _, ok := p.state.containers[id]; ok {
		return engine.NewError(engine.ErrAlreadyExists, fmt.Sprintf("container %q already exists", id))
	}
	p.state.containers[id] = &containerState{id: id, root: newRoot()}
	return nil
}

func (p *Pool) DestroyContainer(ctx context.Context, id string) error {
	p.eng.store.mu.Lock()
	defer p.eng.store.mu.Unlock()

	if _, ok := p.state.containers[id]; !ok {
		return engine.NewError(engine.ErrNotFound, fmt.Sprintf("container %q not found", id))
	}
	delete(p.state.containers, id)
	return nil
}

func (p *Pool) AttachContainer(ctx context.Context, global []byte) (engine.Container, error) {
	h, err := engine.DecodeHandle(global, p.eng.Name(), engine.ContainerHandle)
	if err != nil {
		return nil, err
	}
	if h.Pool != p.state.id {
		return nil, engine.NewError(engine.ErrInvalidArgument,
			fmt.Sprintf("container handle belongs to pool %q, connected to %q", h.Pool, p.state.id))
	}
	return p.OpenContainer(ctx, h.ID)
}

func (p *Pool) Disconnect(ctx context.Context) error {
	p.state = nil
	return nil
}

// ============================================================================
// Container and Mount
// ============================================================================

// Container is an open handle to one in-memory container.
type Container struct {
	pool  *Pool
	state *containerState
}

var _ engine.Container = (*Container)(nil)

func (c *Container) Handle(ctx context.Context) ([]byte, error) {
	return engine.EncodeHandle(&engine.GlobalHandle{
		Engine: c.pool.eng.Name(),
		Kind:   engine.ContainerHandle,
		Pool:   c.pool.state.id,
		ID:     c.state.id,
	})
}

func (c *Container) Mount(ctx context.Context) (engine.Mount, error) {
	if c.state == nil {
		return nil, engine.NewError(engine.ErrMount, "container handle is closed")
	}
	return &Mount{store: c.pool.eng.store, root: c.state.root}, nil
}

func (c *Container) Close(ctx context.Context) error {
	c.state = nil
	return nil
}

// Mount is the filesystem view of an in-memory container.
type Mount struct {
	store *Store
	root  *node
}

var _ engine.Mount = (*Mount)(nil)

// walk resolves an absolute path to a node. Caller must hold store.mu.
func (m *Mount) walk(path string) (*node, error) {
	if path == "" {
		return nil, engine.NewError(engine.ErrInvalidArgument, "empty path")
	}

	cur := m.root
	for _, comp := range strings.Split(strings.Trim(path, "/"), "/") {
		if comp == "" || comp == "." {
			continue
		}
		if !cur.isDir() {
			return nil, engine.NewPathError(engine.ErrNotFound, "not a directory", path)
		}
		next, ok := cur.children[comp]
		if !ok {
			return nil, engine.NewPathError(engine.ErrNotFound, "no such object", path)
		}
		cur = next
	}
	return cur, nil
}

func (m *Mount) Lookup(ctx context.Context, path string) (engine.Object, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	n, err := m.walk(path)
	if err != nil {
		return nil, err
	}
	return &Object{store: m.store, node: n}, nil
}

func (m *Mount) Open(ctx context.Context, parent engine.Object, name string, mode fs.FileMode, flags int) (engine.Object, error) {
	dir, err := dirNode(parent)
	if err != nil {
		return nil, err
	}
	if name == "" || strings.Contains(name, "/") {
		return nil, engine.NewError(engine.ErrInvalidArgument, fmt.Sprintf("invalid object name %q", name))
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	n, exists := dir.children[name]
	switch {
	case exists && flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0:
		return nil, engine.NewPathError(engine.ErrAlreadyExists, "object already exists", name)
	case !exists && flags&os.O_CREATE == 0:
		return nil, engine.NewPathError(engine.ErrNotFound, "no such object", name)
	case !exists:
		n = &node{
			name:  name,
			mode:  mode.Perm(),
			mtime: time.Now(),
		}
		dir.children[name] = n
	}

	if n.isDir() {
		return nil, engine.NewPathError(engine.ErrInvalidArgument, "object is a directory", name)
	}
	return &Object{store: m.store, node: n}, nil
}

func (m *Mount) Remove(ctx context.Context, parent engine.Object, name string) error {
	dir, err := dirNode(parent)
	if err != nil {
		return err
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if _, ok := dir.children[name]; !ok {
		return engine.NewPathError(engine.ErrNotFound, "no such object", name)
	}
	delete(dir.children, name)
	return nil
}

func (m *Mount) Mkdir(ctx context.Context, parent engine.Object, name string, mode fs.FileMode) error {
	dir, err := dirNode(parent)
	if err != nil {
		return err
	}
	if name == "" || strings.Contains(name, "/") {
		return engine.NewError(engine.ErrInvalidArgument, fmt.Sprintf("invalid directory name %q", name))
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if _, ok := dir.children[name]; ok {
		return engine.NewPathError(engine.ErrAlreadyExists, "object already exists", name)
	}
	dir.children[name] = &node{
		name:     name,
		mode:     fs.ModeDir | mode.Perm(),
		mtime:    time.Now(),
		children: make(map[string]*node),
	}
	return nil
}

func (m *Mount) Stat(ctx context.Context, parent engine.Object, name string) (*engine.ObjectInfo, error) {
	obj, ok := parent.(*Object)
	if !ok || obj.node == nil {
		return nil, engine.NewError(engine.ErrInvalidArgument, "invalid parent handle")
	}

	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	n := obj.node
	if name != "" {
		if !n.isDir() {
			return nil, engine.NewError(engine.ErrInvalidArgument, "parent is not a directory")
		}
		child, okc := n.children[name]
		if !okc {
			return nil, engine.NewPathError(engine.ErrNotFound, "no such object", name)
		}
		n = child
	}

	return &engine.ObjectInfo{
		Name:    n.name,
		Size:    int64(len(n.data)),
		Mode:    n.mode,
		ModTime: n.mtime,
	}, nil
}

func (m *Mount) Sync(ctx context.Context) error {
	return nil
}

func (m *Mount) Unmount(ctx context.Context) error {
	m.root = nil
	return nil
}

func dirNode(parent engine.Object) (*node, error) {
	obj, ok := parent.(*Object)
	if !ok || obj.node == nil {
		return nil, engine.NewError(engine.ErrInvalidArgument, "invalid parent handle")
	}
	if !obj.node.isDir() {
		return nil, engine.NewError(engine.ErrInvalidArgument, "parent is not a directory")
	}
	return obj.node, nil
}

// ============================================================================
// Object
// ============================================================================

// Object is an open handle to one in-memory file or directory.
type Object struct {
	store *Store
	node  *node
}

var _ engine.Object = (*Object)(nil)

func (o *Object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, engine.NewError(engine.ErrInvalidArgument, "negative offset")
	}

	o.store.mu.RLock()
	defer o.store.mu.RUnlock()

	if o.node == nil {
		return 0, engine.NewError(engine.ErrIO, "object handle is closed")
	}
	if off >= int64(len(o.node.data)) {
		return 0, nil
	}
	return copy(p, o.node.data[off:]), nil
}

func (o *Object) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, engine.NewError(engine.ErrInvalidArgument, "negative offset")
	}

	o.store.mu.Lock()
	defer o.store.mu.Unlock()

	if o.node == nil {
		return 0, engine.NewError(engine.ErrIO, "object handle is closed")
	}

	end := off + int64(len(p))
	if end > int64(len(o.node.data)) {
		grown := make([]byte, end)
		copy(grown, o.node.data)
		o.node.data = grown
	}
	copy(o.node.data[off:end], p)
	o.node.mtime = time.Now()
	return len(p), nil
}

func (o *Object) Size(ctx context.Context) (int64, error) {
	o.store.mu.RLock()
	defer o.store.mu.RUnlock()

	if o.node == nil {
		return 0, engine.NewError(engine.ErrIO, "object handle is closed")
	}
	return int64(len(o.node.data)), nil
}

func (o *Object) Close(ctx context.Context) error {
	o.node = nil
	return nil
}
