package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name    string
		nodeID  int64
		wantErr bool
	}{
		{"valid node 0", 0, false},
		{"valid node 1", 1, false},
		{"valid node max", 1023, false},
		{"invalid node -1", -1, true},
		{"invalid node 1024", 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.nodeID)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGenerator(%d) error = %v, wantErr %v", tt.nodeID, err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_Unique(t *testing.T) {
	gen, err := NewGenerator(1)
	if err != nil {
		t.Fatal(err)
	}

	ids := make(map[int64]bool)
	for i := 0; i < 10000; i++ {
		id, err := gen.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if ids[id] {
			t.Fatalf("duplicate ID generated: %d", id)
		}
		ids[id] = true
	}
}

func TestGenerate_Concurrent(t *testing.T) {
	gen, err := NewGenerator(1)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	ids := sync.Map{}
	goroutines := 10
	idsPerGoroutine := 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				id, err := gen.Generate()
				if err != nil {
					t.Errorf("Generate() error = %v", err)
					return
				}
				if _, loaded := ids.LoadOrStore(id, true); loaded {
					t.Errorf("duplicate ID: %d", id)
					return
				}
			}
		}()
	}

	wg.Wait()

	count := 0
	ids.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	if want := goroutines * idsPerGoroutine; count != want {
		t.Errorf("expected %d unique IDs, got %d", want, count)
	}
}

func TestGenerate_Sorted(t *testing.T) {
	gen, err := NewGenerator(1)
	if err != nil {
		t.Fatal(err)
	}

	var ids []int64
	for i := 0; i < 100; i++ {
		id, _ := gen.Generate()
		ids = append(ids, id)
		time.Sleep(time.Microsecond * 10)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("IDs not sorted: ids[%d]=%d <= ids[%d]=%d", i, ids[i], i-1, ids[i-1])
		}
	}
}

func TestParse(t *testing.T) {
	gen, err := NewGenerator(42)
	if err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	id, _ := gen.Generate()
	after := time.Now()

	ts, nodeID, seq := Parse(id)

	if nodeID != 42 {
		t.Errorf("nodeID = %d, want 42", nodeID)
	}
	if seq != 0 {
		t.Errorf("sequence = %d, want 0 (first ID)", seq)
	}
	if ts.Before(before.Add(-time.Second)) || ts.After(after.Add(time.Second)) {
		t.Errorf("timestamp %v not in expected range [%v, %v]", ts, before, after)
	}
}

func BenchmarkGenerate(b *testing.B) {
	gen, _ := NewGenerator(1)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		gen.Generate()
	}
}
