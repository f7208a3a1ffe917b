package plugin

import (
	"slices"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	d, ok := Lookup("vue")
	if !ok {
		t.Fatal("expected vue to be registered")
	}
	if d.Package != "@vitejs/plugin-vue" {
		t.Errorf("package = %q, want @vitejs/plugin-vue", d.Package)
	}
	if !slices.Contains(d.Extensions, ".vue") {
		t.Errorf("extensions = %v, want .vue", d.Extensions)
	}

	if _, ok := Lookup(" vue "); !ok {
		t.Error("expected surrounding whitespace to be ignored")
	}
	if _, ok := Lookup("react"); ok {
		t.Error("expected react to be unknown")
	}
}

func TestKnownIsSorted(t *testing.T) {
	known := Known()
	if !slices.IsSorted(known) {
		t.Errorf("Known() = %v, want sorted", known)
	}
	if !slices.Contains(known, "vue") {
		t.Errorf("Known() = %v, want vue", known)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		want    []string
		wantErr string
	}{
		{name: "single", names: []string{"vue"}, want: []string{"vue"}},
		{name: "order preserved", names: []string{"vue-jsx", "vue"}, want: []string{"vue-jsx", "vue"}},
		{name: "empty", names: nil, want: []string{}},
		{name: "unknown", names: []string{"vue", "svelte"}, wantErr: `plugins[1]: unknown plugin "svelte"`},
		{name: "duplicate", names: []string{"vue", "vue"}, wantErr: `plugins[1]: duplicate plugin "vue"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.names)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			names := make([]string, 0, len(got))
			for _, d := range got {
				names = append(names, d.Name)
			}
			if !slices.Equal(names, tt.want) {
				t.Errorf("Resolve(%v) = %v, want %v", tt.names, names, tt.want)
			}
		})
	}
}

func TestResolveUnknownListsKnown(t *testing.T) {
	_, err := Resolve([]string{"nope"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range Known() {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %q", err, name)
		}
	}
}

func TestSourceExtensions(t *testing.T) {
	vue, _ := Lookup("vue")
	jsx, _ := Lookup("vue-jsx")

	got := SourceExtensions([]Descriptor{vue, jsx, vue})
	want := []string{".vue", ".jsx", ".tsx"}
	if !slices.Equal(got, want) {
		t.Errorf("SourceExtensions = %v, want %v", got, want)
	}
	if exts := SourceExtensions(nil); len(exts) != 0 {
		t.Errorf("SourceExtensions(nil) = %v, want empty", exts)
	}
}
