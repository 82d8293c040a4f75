package engine

import (
	"context"
	"io/fs"
	"time"
)

// ============================================================================
// Engine Interface
// ============================================================================

// Engine is the client runtime of a remote hierarchical storage namespace.
//
// The namespace is organized as pool → container → mounted filesystem view.
// An Engine value belongs to a single worker: handles it produces are only
// valid locally. Cross-worker replication happens through global handles
// (see GlobalHandle): one worker serializes a pool or container handle into
// a transportable byte buffer, and every other worker attaches the buffer to
// obtain its own locally-valid handle referring to the same remote resource.
//
// Engines never coordinate workers themselves; ordering of concurrent
// create/open/destroy calls is the caller's responsibility (see pkg/dfs).
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Engine interface {
	// Name identifies the engine implementation ("memory", "badger", "s3").
	// Global handles embed the name so a handle produced by one engine type
	// is never attached by another.
	Name() string

	// Init initializes the client runtime. Idempotent: only the first call
	// per Engine value does work.
	Init(ctx context.Context) error

	// Fini shuts down the client runtime. All pools must be disconnected
	// before calling Fini.
	Fini(ctx context.Context) error

	// Connect establishes a connection to the named pool.
	//
	// Returns:
	//   - Pool: locally-valid pool handle
	//   - error: ErrConnect if the pool is unreachable or unknown
	Connect(ctx context.Context, pool, group, serviceLocator string) (Pool, error)

	// AttachPool reconstructs a locally-valid pool handle from a global
	// handle produced by Pool.Handle on another worker.
	AttachPool(ctx context.Context, global []byte) (Pool, error)
}

// Pool is a connection to a storage pool, the namespace's top level.
type Pool interface {
	// Handle serializes this pool connection into a transportable global
	// handle. The buffer length is implementation-defined and only known
	// after the connection is established.
	Handle(ctx context.Context) ([]byte, error)

	// OpenContainer opens an existing container.
	// Returns ErrNotFound if the container does not exist.
	OpenContainer(ctx context.Context, id string) (Container, error)

	// CreateContainer creates a new, empty container.
	// Returns ErrAlreadyExists if the container exists.
	CreateContainer(ctx context.Context, id string) error

	// DestroyContainer removes a container and all objects in it.
	// Returns ErrNotFound if the container does not exist.
	DestroyContainer(ctx context.Context, id string) error

	// AttachContainer reconstructs a locally-valid container handle from a
	// global handle produced by Container.Handle on another worker.
	AttachContainer(ctx context.Context, global []byte) (Container, error)

	// Disconnect releases the pool connection.
	Disconnect(ctx context.Context) error
}

// Container is an open handle to one container within a pool.
type Container interface {
	// Handle serializes this container handle into a transportable global
	// handle.
	Handle(ctx context.Context) ([]byte, error)

	// Mount produces the filesystem view of the container.
	// Returns ErrMount on failure.
	Mount(ctx context.Context) (Mount, error)

	// Close releases the container handle.
	Close(ctx context.Context) error
}

// Mount is the mounted filesystem view of a container: a hierarchical
// namespace of directories and byte-addressable objects.
type Mount interface {
	// Lookup resolves an absolute path to an object handle.
	// The root path "/" resolves to the container's root directory.
	// Returns ErrNotFound if any component is missing.
	Lookup(ctx context.Context, path string) (Object, error)

	// Open opens the named object under parent. flags is a combination of
	// os.O_RDWR, os.O_CREATE, and os.O_EXCL; mode applies on create only.
	//
	// Returns:
	//   - ErrNotFound when the object is missing and O_CREATE is not set
	//   - ErrAlreadyExists when O_CREATE|O_EXCL finds an existing object
	Open(ctx context.Context, parent Object, name string, mode fs.FileMode, flags int) (Object, error)

	// Remove deletes the named object under parent.
	Remove(ctx context.Context, parent Object, name string) error

	// Mkdir creates a directory under parent.
	Mkdir(ctx context.Context, parent Object, name string, mode fs.FileMode) error

	// Stat returns attributes of the named object under parent. An empty
	// name stats the parent itself.
	Stat(ctx context.Context, parent Object, name string) (*ObjectInfo, error)

	// Sync flushes all outstanding writes through this mount.
	Sync(ctx context.Context) error

	// Unmount releases the filesystem view.
	Unmount(ctx context.Context) error
}

// Object is an open handle to one file or directory, scoped to a single
// operation sequence (open → transfers → close). Released exactly once.
type Object interface {
	// ReadAt reads up to len(p) bytes at offset off. Short reads are
	// allowed; n < len(p) with a nil error means the caller should retry
	// the remainder.
	ReadAt(ctx context.Context, p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes at offset off. Writes either complete
	// fully or fail; partial writes are reported as errors.
	WriteAt(ctx context.Context, p []byte, off int64) (n int, err error)

	// Size returns the object's current size in bytes.
	Size(ctx context.Context) (int64, error)

	// Close releases the object handle.
	Close(ctx context.Context) error
}

// ObjectInfo holds the attributes returned by Mount.Stat.
type ObjectInfo struct {
	// Name is the leaf name of the object
	Name string

	// Size is the object size in bytes (0 for directories)
	Size int64

	// Mode holds permission bits plus fs.ModeDir for directories
	Mode fs.FileMode

	// ModTime is the last modification time
	ModTime time.Time
}

// IsDir reports whether the object is a directory.
func (i *ObjectInfo) IsDir() bool {
	return i.Mode.IsDir()
}
