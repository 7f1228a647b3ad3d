package container

import (
	"errors"
	"testing"

	"github.com/justapithecus/flume/log"
)

type closeTracker struct {
	name   string
	order  *[]string
	failed bool
}

func (c *closeTracker) Close() error {
	*c.order = append(*c.order, c.name)
	if c.failed {
		return errors.New("close failed")
	}
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(log.NewNop())

	if err := r.Register("thing", 42); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := r.Get("thing"); got != 42 {
		t.Errorf("Get = %v", got)
	}
	if got := r.Get("absent"); got != nil {
		t.Errorf("absent Get = %v", got)
	}
}

func TestRegistryRejectsDuplicatesAndNil(t *testing.T) {
	r := NewRegistry(log.NewNop())
	if err := r.Register("x", 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("x", 2); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Error("nil instance accepted")
	}
}

func TestRegistryGetOrCreateAtomic(t *testing.T) {
	r := NewRegistry(log.NewNop())
	calls := 0
	factory := func() (any, error) {
		calls++
		return "made", nil
	}

	for i := 0; i < 3; i++ {
		v, err := r.GetOrCreate("component", factory)
		if err != nil || v != "made" {
			t.Fatalf("GetOrCreate = %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("factory ran %d times", calls)
	}
}

func TestRegistryCleanupReverseOrder(t *testing.T) {
	r := NewRegistry(log.NewNop())
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		if err := r.Register(name, &closeTracker{name: name, order: &order}); err != nil {
			t.Fatal(err)
		}
	}
	r.Cleanup()

	want := []string{"third", "second", "first"}
	for i, name := range want {
		if i >= len(order) || order[i] != name {
			t.Fatalf("cleanup order = %v, want %v", order, want)
		}
	}
	if r.Len() != 0 {
		t.Errorf("registry not cleared: %d", r.Len())
	}
}

func TestRegistryCleanupSurvivesFailures(t *testing.T) {
	r := NewRegistry(log.NewNop())
	var order []string
	_ = r.Register("a", &closeTracker{name: "a", order: &order})
	_ = r.Register("b", &closeTracker{name: "b", order: &order, failed: true})
	_ = r.Register("c", &closeTracker{name: "c", order: &order})

	r.Cleanup()
	if len(order) != 3 {
		t.Errorf("cleanup stopped at a failure: %v", order)
	}
}
