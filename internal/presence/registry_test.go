package presence

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

type stubConn struct {
	id, user string
}

func (s *stubConn) ID() string       { return s.id }
func (s *stubConn) UserID() string   { return s.user }
func (s *stubConn) Push(Event) error { return nil }
func (s *stubConn) Close()           {}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("empty registry should miss")
	}
	c := &stubConn{id: "c1", user: "u1"}
	if prev := r.Register("u1", c); prev != nil {
		t.Fatalf("first register returned %v", prev)
	}
	got, ok := r.Lookup("u1")
	if !ok || got != c {
		t.Fatalf("lookup = %v, %v", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRegistry_NewestWins(t *testing.T) {
	r := NewRegistry()
	c1 := &stubConn{id: "c1", user: "u1"}
	c2 := &stubConn{id: "c2", user: "u1"}
	r.Register("u1", c1)
	if prev := r.Register("u1", c2); prev != c1 {
		t.Fatalf("prev = %v, want c1", prev)
	}
	if got, _ := r.Lookup("u1"); got != c2 {
		t.Fatalf("lookup = %v, want c2", got)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	// re-registering the same handle is not a replacement
	if prev := r.Register("u1", c2); prev != nil {
		t.Fatalf("same handle prev = %v", prev)
	}
}

func TestRegistry_UnregisterOnlyOwner(t *testing.T) {
	r := NewRegistry()
	c1 := &stubConn{id: "c1", user: "u1"}
	c2 := &stubConn{id: "c2", user: "u1"}
	r.Register("u1", c1)
	r.Register("u1", c2)

	if r.Unregister("u1", c1) {
		t.Fatal("stale handle removed the replacement")
	}
	if got, _ := r.Lookup("u1"); got != c2 {
		t.Fatal("replacement should survive")
	}
	if !r.Unregister("u1", c2) {
		t.Fatal("owner unregister should succeed")
	}
	if r.Unregister("u1", c2) {
		t.Fatal("second unregister should be a no-op")
	}
	if r.Len() != 0 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRegistry_OnlineAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("b", &stubConn{id: "2", user: "b"})
	r.Register("a", &stubConn{id: "1", user: "a"})
	if got := r.Online(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("online = %v", got)
	}
	if n := len(r.Snapshot()); n != 2 {
		t.Fatalf("snapshot len = %d", n)
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &stubConn{id: fmt.Sprint(i), user: "u1"}
			r.Register("u1", c)
			r.Lookup("u1")
		}(i)
	}
	wg.Wait()
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRegistry_Claim(t *testing.T) {
	r := NewRegistry()
	c1 := &stubConn{id: "c1", user: "u1"}
	c2 := &stubConn{id: "c2", user: "u1"}
	if !r.Claim("u1", c1) {
		t.Fatal("claim on empty slot should succeed")
	}
	if r.Claim("u1", c2) {
		t.Fatal("claim on taken slot should fail")
	}
	if got, _ := r.Lookup("u1"); got != c1 {
		t.Fatal("failed claim must not replace")
	}
}
