package memory

import (
	"context"
	"testing"

	"github.com/dfsio/parfs/pkg/engine"
	"github.com/dfsio/parfs/pkg/engine/enginetest"
)

// TestMemoryEngine runs the engine conformance suite against the in-memory
// implementation.
func TestMemoryEngine(t *testing.T) {
	suite := &enginetest.Suite{
		NewEngine: func(t *testing.T) (engine.Engine, string) {
			store := NewStore()
			if err := store.ProvisionPool("testpool"); err != nil {
				t.Fatalf("ProvisionPool failed: %v", err)
			}
			return New(store), "testpool"
		},
	}
	suite.Run(t)
}

func TestConnectUnknownPool(t *testing.T) {
	ctx := context.Background()

	eng := New(NewStore())
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := eng.Connect(ctx, "nope", "", "svc:0"); err == nil {
		t.Fatal("Connect to unprovisioned pool succeeded")
	}
}

// Two engines over the same store model two workers: objects created by
// one must be observable by the other after handle attachment.
func TestCrossWorkerVisibility(t *testing.T) {
	ctx := context.Background()

	store := NewStore()
	if err := store.ProvisionPool("pool"); err != nil {
		t.Fatalf("ProvisionPool failed: %v", err)
	}

	engA := New(store)
	engB := New(store)
	for _, e := range []*Engine{engA, engB} {
		if err := e.Init(ctx); err != nil {
			t.Fatalf("Init failed: %v", err)
		}
	}

	poolA, err := engA.Connect(ctx, "pool", "", "svc:0")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := poolA.CreateContainer(ctx, "c"); err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}

	ph, err := poolA.Handle(ctx)
	if err != nil {
		t.Fatalf("pool Handle failed: %v", err)
	}
	poolB, err := engB.AttachPool(ctx, ph)
	if err != nil {
		t.Fatalf("AttachPool failed: %v", err)
	}
	if _, err := poolB.OpenContainer(ctx, "c"); err != nil {
		t.Fatalf("container created by worker A not visible to worker B: %v", err)
	}
}
