// Package enginetest provides a conformance test suite for engine.Engine
// implementations. It tests the interface contract, not implementation
// details, so every backend (memory, badger, s3) runs the same suite.
package enginetest

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/dfsio/parfs/pkg/engine"
)

// Suite is a conformance test suite for Engine implementations.
//
// Usage:
//
//	func TestMyEngine(t *testing.T) {
//	    suite := &enginetest.Suite{
//	        NewEngine: func(t *testing.T) (engine.Engine, string) {
//	            return myengine.New(...), "pool-id"
//	        },
//	    }
//	    suite.Run(t)
//	}
type Suite struct {
	// NewEngine creates a fresh engine for each test plus the identifier
	// of a pool that is already provisioned on it. Tests create their own
	// containers.
	NewEngine func(t *testing.T) (eng engine.Engine, pool string)
}

// Run executes all tests in the suite.
func (s *Suite) Run(t *testing.T) {
	t.Run("PoolLifecycle", s.testPoolLifecycle)
	t.Run("ContainerLifecycle", s.testContainerLifecycle)
	t.Run("GlobalHandles", s.testGlobalHandles)
	t.Run("NamespaceOperations", s.testNamespaceOperations)
	t.Run("ObjectIO", s.testObjectIO)
	t.Run("ExclusiveCreate", s.testExclusiveCreate)
}

func (s *Suite) connect(t *testing.T) (engine.Engine, engine.Pool) {
	t.Helper()
	ctx := context.Background()

	eng, pool := s.NewEngine(t)
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	p, err := eng.Connect(ctx, pool, "", "svc:0")
	if err != nil {
		t.Fatalf("Connect to pool %q failed: %v", pool, err)
	}
	return eng, p
}

func (s *Suite) mount(t *testing.T, p engine.Pool, cont string) engine.Mount {
	t.Helper()
	ctx := context.Background()

	if err := p.CreateContainer(ctx, cont); err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}
	c, err := p.OpenContainer(ctx, cont)
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	m, err := c.Mount(ctx)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	return m
}

func (s *Suite) testPoolLifecycle(t *testing.T) {
	ctx := context.Background()

	eng, pool := s.NewEngine(t)
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	// Init must be idempotent.
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}

	p, err := eng.Connect(ctx, pool, "", "svc:0")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := eng.Fini(ctx); err != nil {
		t.Fatalf("Fini failed: %v", err)
	}
}

func (s *Suite) testContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	_, p := s.connect(t)

	if _, err := p.OpenContainer(ctx, "missing"); !engine.IsNotFound(err) {
		t.Fatalf("OpenContainer on missing container: expected NotFound, got %v", err)
	}

	if err := p.CreateContainer(ctx, "bench"); err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}
	if err := p.CreateContainer(ctx, "bench"); !engine.IsAlreadyExists(err) {
		t.Fatalf("duplicate CreateContainer: expected AlreadyExists, got %v", err)
	}

	c, err := p.OpenContainer(ctx, "bench")
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := p.DestroyContainer(ctx, "bench"); err != nil {
		t.Fatalf("DestroyContainer failed: %v", err)
	}
	if _, err := p.OpenContainer(ctx, "bench"); !engine.IsNotFound(err) {
		t.Fatalf("OpenContainer after destroy: expected NotFound, got %v", err)
	}
	if err := p.DestroyContainer(ctx, "bench"); !engine.IsNotFound(err) {
		t.Fatalf("double DestroyContainer: expected NotFound, got %v", err)
	}
}

func (s *Suite) testGlobalHandles(t *testing.T) {
	ctx := context.Background()
	eng, p := s.connect(t)

	poolHandle, err := p.Handle(ctx)
	if err != nil {
		t.Fatalf("pool Handle failed: %v", err)
	}
	if len(poolHandle) == 0 {
		t.Fatal("pool Handle returned an empty buffer")
	}

	attached, err := eng.AttachPool(ctx, poolHandle)
	if err != nil {
		t.Fatalf("AttachPool failed: %v", err)
	}

	// An object created through the original connection must be visible
	// through the attached one.
	if err := p.CreateContainer(ctx, "shared"); err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}
	c, err := attached.OpenContainer(ctx, "shared")
	if err != nil {
		t.Fatalf("OpenContainer through attached pool failed: %v", err)
	}

	contHandle, err := c.Handle(ctx)
	if err != nil {
		t.Fatalf("container Handle failed: %v", err)
	}
	c2, err := p.AttachContainer(ctx, contHandle)
	if err != nil {
		t.Fatalf("AttachContainer failed: %v", err)
	}
	if _, err := c2.Mount(ctx); err != nil {
		t.Fatalf("Mount of attached container failed: %v", err)
	}

	// Handles never cross engine types.
	if _, err := eng.AttachPool(ctx, contHandle); err == nil {
		t.Fatal("AttachPool accepted a container handle")
	}
}

func (s *Suite) testNamespaceOperations(t *testing.T) {
	ctx := context.Background()
	_, p := s.connect(t)
	m := s.mount(t, p, "ns")

	root, err := m.Lookup(ctx, "/")
	if err != nil {
		t.Fatalf("Lookup of root failed: %v", err)
	}

	if err := m.Mkdir(ctx, root, "data", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	dir, err := m.Lookup(ctx, "/data")
	if err != nil {
		t.Fatalf("Lookup of /data failed: %v", err)
	}

	obj, err := m.Open(ctx, dir, "file.bin", 0o644, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	if err != nil {
		t.Fatalf("exclusive create failed: %v", err)
	}
	if _, err := obj.WriteAt(ctx, []byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := obj.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	info, err := m.Stat(ctx, dir, "file.bin")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != 5 {
		t.Errorf("Stat size = %d, want 5", info.Size)
	}
	if info.IsDir() {
		t.Error("Stat reported a file as directory")
	}

	// Empty name stats the parent itself.
	dirInfo, err := m.Stat(ctx, dir, "")
	if err != nil {
		t.Fatalf("Stat of parent failed: %v", err)
	}
	if !dirInfo.IsDir() {
		t.Error("Stat of directory parent did not report a directory")
	}

	if _, err := m.Lookup(ctx, "/data/nope"); !engine.IsNotFound(err) {
		t.Fatalf("Lookup of missing object: expected NotFound, got %v", err)
	}

	if err := m.Remove(ctx, dir, "file.bin"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := m.Lookup(ctx, "/data/file.bin"); !engine.IsNotFound(err) {
		t.Fatalf("Lookup after Remove: expected NotFound, got %v", err)
	}

	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

func (s *Suite) testObjectIO(t *testing.T) {
	ctx := context.Background()
	_, p := s.connect(t)
	m := s.mount(t, p, "io")

	root, err := m.Lookup(ctx, "/")
	if err != nil {
		t.Fatalf("Lookup of root failed: %v", err)
	}
	obj, err := m.Open(ctx, root, "blob", 0o644, os.O_RDWR|os.O_CREATE)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	payload := bytes.Repeat([]byte("0123456789abcdef"), 64)
	if n, err := obj.WriteAt(ctx, payload, 0); err != nil || n != len(payload) {
		t.Fatalf("WriteAt = (%d, %v), want (%d, nil)", n, err, len(payload))
	}

	// Overwrite in the middle, then extend past the end.
	if _, err := obj.WriteAt(ctx, []byte("XXXX"), 8); err != nil {
		t.Fatalf("overwrite WriteAt failed: %v", err)
	}
	if _, err := obj.WriteAt(ctx, []byte("tail"), int64(len(payload))+4); err != nil {
		t.Fatalf("extending WriteAt failed: %v", err)
	}

	size, err := obj.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if want := int64(len(payload) + 8); size != want {
		t.Errorf("Size = %d, want %d", size, want)
	}

	got := make([]byte, 4)
	if n, err := obj.ReadAt(ctx, got, 8); err != nil || n != 4 {
		t.Fatalf("ReadAt = (%d, %v), want (4, nil)", n, err)
	}
	if string(got) != "XXXX" {
		t.Errorf("ReadAt returned %q, want %q", got, "XXXX")
	}

	// Reading at or past EOF returns a zero count, not an error.
	if n, err := obj.ReadAt(ctx, got, size+100); err != nil || n != 0 {
		t.Fatalf("ReadAt past EOF = (%d, %v), want (0, nil)", n, err)
	}

	if err := obj.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func (s *Suite) testExclusiveCreate(t *testing.T) {
	ctx := context.Background()
	_, p := s.connect(t)
	m := s.mount(t, p, "excl")

	root, err := m.Lookup(ctx, "/")
	if err != nil {
		t.Fatalf("Lookup of root failed: %v", err)
	}

	first, err := m.Open(ctx, root, "target", 0o644, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	if err != nil {
		t.Fatalf("first exclusive create failed: %v", err)
	}
	first.Close(ctx)

	if _, err := m.Open(ctx, root, "target", 0o644, os.O_RDWR|os.O_CREATE|os.O_EXCL); !engine.IsAlreadyExists(err) {
		t.Fatalf("second exclusive create: expected AlreadyExists, got %v", err)
	}

	// Non-exclusive open of the existing object succeeds.
	obj, err := m.Open(ctx, root, "target", 0o644, os.O_RDWR)
	if err != nil {
		t.Fatalf("open of existing object failed: %v", err)
	}
	obj.Close(ctx)

	if _, err := m.Open(ctx, root, "missing", 0o644, os.O_RDWR); !engine.IsNotFound(err) {
		t.Fatalf("open of missing object: expected NotFound, got %v", err)
	}
}
