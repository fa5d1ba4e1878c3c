package registry

import (
	"fmt"
	"sync"
	"testing"
)

type testProvider struct {
	ID string
}

func TestBaseRegistry_Register(t *testing.T) {
	reg := NewBaseRegistry[testProvider]()

	tests := []struct {
		name     string
		itemName string
		wantErr  bool
	}{
		{name: "valid item", itemName: "openai", wantErr: false},
		{name: "empty name", itemName: "", wantErr: true},
		{name: "duplicate name", itemName: "openai", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.itemName, testProvider{ID: tt.itemName})
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseRegistry_Replace(t *testing.T) {
	reg := NewBaseRegistry[testProvider]()

	if err := reg.Replace("agent", testProvider{ID: "v1"}); err != nil {
		t.Fatalf("Replace() first error = %v", err)
	}
	if err := reg.Replace("agent", testProvider{ID: "v2"}); err != nil {
		t.Fatalf("Replace() second error = %v", err)
	}

	got, ok := reg.Get("agent")
	if !ok {
		t.Fatal("Get() after Replace() not found")
	}
	if got.ID != "v2" {
		t.Errorf("Get() = %q, want %q", got.ID, "v2")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestBaseRegistry_Names_Sorted(t *testing.T) {
	reg := NewBaseRegistry[testProvider]()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(name, testProvider{ID: name}); err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}

	names := reg.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Names() len = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestBaseRegistry_RemoveAndClear(t *testing.T) {
	reg := NewBaseRegistry[testProvider]()

	if err := reg.Remove("missing"); err == nil {
		t.Error("Remove() on missing item should error")
	}

	if err := reg.Register("a", testProvider{ID: "a"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Remove("a"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("Count() after Remove = %d, want 0", reg.Count())
	}

	for i := 0; i < 3; i++ {
		_ = reg.Register(fmt.Sprintf("item-%d", i), testProvider{})
	}
	reg.Clear()
	if reg.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", reg.Count())
	}
}

func TestBaseRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewBaseRegistry[int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = reg.Register(fmt.Sprintf("item-%d", n), n)
			reg.Get(fmt.Sprintf("item-%d", n/2))
			reg.List()
		}(i)
	}
	wg.Wait()

	if reg.Count() != 50 {
		t.Errorf("Count() = %d, want 50", reg.Count())
	}
}
