package languages

import "testing"

func TestRegistryGetKnown(t *testing.T) {
	r := NewRegistry()

	lang, ok := r.Get(1)
	if !ok {
		t.Fatalf("expected language 1 to exist")
	}
	if lang.Name != "Python" {
		t.Errorf("got name %q, want Python", lang.Name)
	}
	if len(lang.CompileCmd) != 0 {
		t.Errorf("python should not have a compile step")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get(999); ok {
		t.Fatalf("expected language 999 to be missing")
	}
}

func TestRegistryListNotEmpty(t *testing.T) {
	r := NewRegistry()

	langs := r.List()
	if len(langs) == 0 {
		t.Fatalf("expected at least one registered language")
	}
}

func TestRegistryRegisterOverride(t *testing.T) {
	r := NewRegistry()
	before, _ := r.Get(1)

	custom := before
	custom.Version = "3.12.0"
	r.Register(custom)

	after, ok := r.Get(1)
	if !ok {
		t.Fatalf("expected language 1 to still exist")
	}
	if after.Version != "3.12.0" {
		t.Errorf("got version %q, want 3.12.0", after.Version)
	}
}
