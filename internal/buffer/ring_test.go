package buffer

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewRing(t *testing.T) {
	r := NewRing(100)
	if r.Cap() != 100 {
		t.Errorf("expected capacity 100, got %d", r.Cap())
	}
	if r.Len() != 0 {
		t.Errorf("expected length 0, got %d", r.Len())
	}

	// Non-positive capacity means no scrollback at all.
	r = NewRing(0)
	if r.Cap() != 0 {
		t.Errorf("expected capacity 0, got %d", r.Cap())
	}
	r = NewRing(-5)
	if r.Cap() != 0 {
		t.Errorf("expected capacity 0 for negative input, got %d", r.Cap())
	}
	if n, err := r.Write([]byte("discarded")); err != nil || n != 9 {
		t.Errorf("zero-capacity write: n=%d err=%v", n, err)
	}
	if r.Len() != 0 {
		t.Errorf("zero-capacity ring must stay empty, got %d", r.Len())
	}
}

func TestRing_Write(t *testing.T) {
	r := NewRing(10)

	n, err := r.Write([]byte("hello"))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected n=5, got %d", n)
	}
	if r.Len() != 5 {
		t.Errorf("expected length 5, got %d", r.Len())
	}

	n, err = r.Write([]byte("world"))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected n=5, got %d", n)
	}
	if r.Len() != 10 {
		t.Errorf("expected length 10, got %d", r.Len())
	}

	data := r.ReadAll()
	if !bytes.Equal(data, []byte("helloworld")) {
		t.Errorf("expected 'helloworld', got '%s'", string(data))
	}
}

func TestRing_WriteOverflow(t *testing.T) {
	r := NewRing(10)

	r.Write([]byte("0123456789"))
	r.Write([]byte("abc"))

	data := r.ReadAll()
	if !bytes.Equal(data, []byte("3456789abc")) {
		t.Errorf("expected '3456789abc', got '%s'", string(data))
	}
	if r.Len() != 10 {
		t.Errorf("expected length 10, got %d", r.Len())
	}

	// Keep evicting across the wrap point.
	r.Write([]byte("XYZ"))
	data = r.ReadAll()
	if !bytes.Equal(data, []byte("6789abcXYZ")) {
		t.Errorf("expected '6789abcXYZ', got '%s'", string(data))
	}
}

func TestRing_WriteLargerThanCapacity(t *testing.T) {
	r := NewRing(5)

	n, err := r.Write([]byte("0123456789"))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 10 {
		t.Errorf("expected n=10, got %d", n)
	}

	data := r.ReadAll()
	if !bytes.Equal(data, []byte("56789")) {
		t.Errorf("expected '56789', got '%s'", string(data))
	}
	if r.Len() != 5 {
		t.Errorf("expected length 5, got %d", r.Len())
	}
}

func TestRing_ReadAllReturnsCopy(t *testing.T) {
	r := NewRing(10)
	r.Write([]byte("test"))

	data := r.ReadAll()
	data[0] = 'X'

	data2 := r.ReadAll()
	if !bytes.Equal(data2, []byte("test")) {
		t.Errorf("ReadAll should return a copy, got '%s'", string(data2))
	}
}

func TestRing_Clear(t *testing.T) {
	r := NewRing(10)
	r.Write([]byte("hello"))

	r.Clear()

	if r.Len() != 0 {
		t.Errorf("expected length 0 after clear, got %d", r.Len())
	}

	r.Write([]byte("world"))
	data := r.ReadAll()
	if !bytes.Equal(data, []byte("world")) {
		t.Errorf("expected 'world', got '%s'", string(data))
	}
}

// Whatever is written in whatever chunking, ReadAll returns the suffix of the
// concatenated writes bounded by capacity.
func TestRingSuffixProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("ReadAll is the capacity-bounded suffix of all writes", prop.ForAll(
		func(capacity int, chunks [][]byte) bool {
			r := NewRing(capacity)

			var total []byte
			for _, chunk := range chunks {
				r.Write(chunk)
				total = append(total, chunk...)
			}

			want := total
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}

			got := r.ReadAll()
			if len(got) != len(want) {
				return false
			}
			return bytes.Equal(got, want)
		},
		gen.IntRange(1, 128),
		gen.SliceOf(gen.SliceOf(gen.UInt8())),
	))

	properties.TestingRun(t)
}
