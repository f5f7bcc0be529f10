package palette

import "testing"

func TestColorCycles(t *testing.T) {
	p := Palette{"red", "green", "blue"}
	tests := []struct {
		number int
		want   string
	}{
		{1, "red"},
		{2, "green"},
		{3, "blue"},
		{4, "red"},
		{8, "green"},
	}
	for _, tt := range tests {
		if got := p.Color(tt.number); got != tt.want {
			t.Errorf("Color(%d) = %q, want %q", tt.number, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	got := Parse(" #111, ,#222 ")
	if len(got) != 2 || got[0] != "#111" || got[1] != "#222" {
		t.Fatalf("Parse() = %v", got)
	}
	if def := Parse(""); len(def) != len(Default) {
		t.Fatalf("Parse(\"\") = %v, want default palette", def)
	}
}

func TestEmptyPalette(t *testing.T) {
	if got := (Palette{}).Color(3); got != "" {
		t.Fatalf("empty palette Color() = %q", got)
	}
}
