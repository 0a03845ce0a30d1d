package ringbuffer

import (
	"reflect"
	"testing"
)

func seq(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestPutBulkGetBulkRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		writes   [][]float32
		getN     int
		want     []float32
	}{
		{
			name:     "single write under capacity",
			capacity: 10,
			writes:   [][]float32{seq(4, 0)},
			getN:     4,
			want:     seq(4, 0),
		},
		{
			name:     "write larger than capacity keeps trailing samples",
			capacity: 4,
			writes:   [][]float32{seq(10, 0)},
			getN:     4,
			want:     seq(4, 6),
		},
		{
			name:     "sequential writes overflow and drop oldest",
			capacity: 5,
			writes:   [][]float32{seq(3, 0), seq(4, 100)},
			getN:     5,
			want:     []float32{2, 100, 101, 102, 103},
		},
		{
			name:     "get more than available returns only what is buffered",
			capacity: 5,
			writes:   [][]float32{seq(2, 0)},
			getN:     10,
			want:     seq(2, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := New(tt.capacity)
			for _, w := range tt.writes {
				rb.PutBulk(w)
			}
			if rb.Size() > rb.Capacity() {
				t.Fatalf("size %d exceeds capacity %d", rb.Size(), rb.Capacity())
			}
			got := rb.GetBulk(tt.getN)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("GetBulk(%d) = %v, want %v", tt.getN, got, tt.want)
			}
		})
	}
}

func TestPeekIsNonDestructive(t *testing.T) {
	rb := New(8)
	rb.PutBulk(seq(5, 0))

	peeked := rb.Peek(3)
	if !reflect.DeepEqual(peeked, seq(3, 0)) {
		t.Fatalf("Peek = %v, want %v", peeked, seq(3, 0))
	}
	if rb.Size() != 5 {
		t.Fatalf("Peek must not consume samples, size = %d, want 5", rb.Size())
	}

	got := rb.GetBulk(5)
	if !reflect.DeepEqual(got, seq(5, 0)) {
		t.Fatalf("GetBulk after Peek = %v, want %v", got, seq(5, 0))
	}
}

func TestClear(t *testing.T) {
	rb := New(4)
	rb.PutBulk(seq(4, 0))
	rb.Clear()

	if !rb.IsEmpty() {
		t.Fatalf("buffer should be empty after Clear, size = %d", rb.Size())
	}
	if got := rb.GetBulk(4); len(got) != 0 {
		t.Fatalf("GetBulk after Clear = %v, want empty", got)
	}
}

func TestTrimToAtMost(t *testing.T) {
	rb := New(10)
	rb.PutBulk(seq(8, 0))

	rb.TrimToAtMost(3)
	if rb.Size() != 3 {
		t.Fatalf("size after trim = %d, want 3", rb.Size())
	}
	got := rb.GetBulk(3)
	if !reflect.DeepEqual(got, seq(3, 5)) {
		t.Fatalf("TrimToAtMost kept wrong tail: got %v, want %v", got, seq(3, 5))
	}
}

func TestIsFullAndCapacityInvariant(t *testing.T) {
	rb := New(5)
	if rb.IsFull() {
		t.Fatal("empty buffer reports full")
	}
	rb.PutBulk(seq(5, 0))
	if !rb.IsFull() {
		t.Fatal("buffer at capacity should report full")
	}
	rb.PutBulk(seq(3, 50))
	if rb.Size() > rb.Capacity() {
		t.Fatalf("size %d exceeds capacity %d after overflow write", rb.Size(), rb.Capacity())
	}
}
