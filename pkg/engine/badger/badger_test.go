package badger

import (
	"context"
	"os"
	"testing"

	"github.com/dfsio/parfs/pkg/engine"
	"github.com/dfsio/parfs/pkg/engine/enginetest"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	eng, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return eng
}

// TestBadgerEngine runs the engine conformance suite against the
// BadgerDB-backed implementation.
func TestBadgerEngine(t *testing.T) {
	suite := &enginetest.Suite{
		NewEngine: func(t *testing.T) (engine.Engine, string) {
			return newTestEngine(t), "testpool"
		},
	}
	suite.Run(t)
}

// Objects must survive a close/reopen cycle of the DB directory.
func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	pool, err := eng.Connect(ctx, "pool", "", "svc:0")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := pool.CreateContainer(ctx, "persist"); err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}
	cont, err := pool.OpenContainer(ctx, "persist")
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	mount, err := cont.Mount(ctx)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	root, err := mount.Lookup(ctx, "/")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	obj, err := mount.Open(ctx, root, "state", 0o644, os.O_RDWR|os.O_CREATE)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := obj.WriteAt(ctx, []byte("durable"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	eng, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer eng.Close()
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("Init after reopen failed: %v", err)
	}

	pool, err = eng.Connect(ctx, "pool", "", "svc:0")
	if err != nil {
		t.Fatalf("Connect after reopen failed: %v", err)
	}
	cont, err = pool.OpenContainer(ctx, "persist")
	if err != nil {
		t.Fatalf("OpenContainer after reopen failed: %v", err)
	}
	mount, err = cont.Mount(ctx)
	if err != nil {
		t.Fatalf("Mount after reopen failed: %v", err)
	}
	obj, err = mount.Lookup(ctx, "/state")
	if err != nil {
		t.Fatalf("Lookup after reopen failed: %v", err)
	}

	got := make([]byte, 7)
	n, err := obj.ReadAt(ctx, got, 0)
	if err != nil || n != 7 {
		t.Fatalf("ReadAt = (%d, %v), want (7, nil)", n, err)
	}
	if string(got) != "durable" {
		t.Errorf("ReadAt returned %q, want %q", got, "durable")
	}
}
