package session

import "testing"

type fakePipeline struct{ closed bool }

func (f *fakePipeline) Close() { f.closed = true }

func TestNextIDMonotonicallyIncreasing(t *testing.T) {
	r := NewRegistry()
	a := r.NextID()
	b := r.NextID()
	c := r.NextID()
	if !(a < b && b < c) {
		t.Errorf("expected strictly increasing IDs, got %d, %d, %d", a, b, c)
	}
}

func TestInsertGetRemove(t *testing.T) {
	r := NewRegistry()
	id := r.NextID()
	p := &fakePipeline{}

	r.Insert(id, p)
	if r.Size() != 1 {
		t.Fatalf("size = %d, want 1", r.Size())
	}

	got, ok := r.Get(id)
	if !ok || got != p {
		t.Fatalf("Get returned (%v, %v), want (%v, true)", got, ok, p)
	}

	r.Remove(id)
	if r.Size() != 0 {
		t.Errorf("size after remove = %d, want 0", r.Size())
	}
	if _, ok := r.Get(id); ok {
		t.Errorf("expected Get to miss after Remove")
	}
}

func TestCloseAllClosesAndClears(t *testing.T) {
	r := NewRegistry()
	a, b := &fakePipeline{}, &fakePipeline{}
	r.Insert(r.NextID(), a)
	r.Insert(r.NextID(), b)

	r.CloseAll()

	if !a.closed || !b.closed {
		t.Errorf("expected both sessions closed, got a=%v b=%v", a.closed, b.closed)
	}
	if r.Size() != 0 {
		t.Errorf("size after CloseAll = %d, want 0", r.Size())
	}
}
