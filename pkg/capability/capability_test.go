package capability

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Capability
		wantErr bool
	}{
		{input: "code_generation", want: CodeGeneration},
		{input: "web_search", want: WebSearch},
		{input: "monitoring", want: Monitoring},
		{input: "juggling", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSet(t *testing.T) {
	s := NewSet(Research, WebSearch)

	if !s.Has(Research) {
		t.Error("Has(Research) = false, want true")
	}
	if s.Has(CodeGeneration) {
		t.Error("Has(CodeGeneration) = true, want false")
	}

	s.Add(CodeGeneration)
	sorted := s.Sorted()
	want := []Capability{CodeGeneration, Research, WebSearch}
	if len(sorted) != len(want) {
		t.Fatalf("Sorted() len = %d, want %d", len(sorted), len(want))
	}
	for i := range want {
		if sorted[i] != want[i] {
			t.Errorf("Sorted()[%d] = %q, want %q", i, sorted[i], want[i])
		}
	}
}

func TestAllCount(t *testing.T) {
	if got := len(All()); got != 13 {
		t.Errorf("len(All()) = %d, want 13", got)
	}
}
