package dlfcn

import (
	"errors"
	"testing"
)

type deviceFunc = func(handle uintptr)

func TestResolve(t *testing.T) {
	var calls []uintptr
	fn := func(h uintptr) { calls = append(calls, h) }
	var asVar deviceFunc = func(h uintptr) { calls = append(calls, h+1) }
	var nilVar deviceFunc

	s := NewStaticOpener()
	s.Register("mod", map[string]any{
		"Direct":    fn,
		"Variable":  &asVar,
		"NilVar":    &nilVar,
		"WrongType": func(string) {},
		"NotAFunc":  42,
	})
	h, err := s.Open("mod")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Run("function_symbol", func(t *testing.T) {
		f := Resolve[deviceFunc](h, "Direct")
		got, ok := f.Get()
		if !ok {
			t.Fatalf("expected Direct to resolve")
		}
		got(7)
		if len(calls) != 1 || calls[0] != 7 {
			t.Fatalf("unexpected calls: %v", calls)
		}
	})

	t.Run("variable_symbol", func(t *testing.T) {
		calls = nil
		f := Resolve[deviceFunc](h, "Variable")
		got, ok := f.Get()
		if !ok {
			t.Fatalf("expected Variable to resolve")
		}
		got(7)
		if len(calls) != 1 || calls[0] != 8 {
			t.Fatalf("unexpected calls: %v", calls)
		}
	})

	tests := []struct {
		name   string
		symbol string
	}{
		{"missing", "Nope"},
		{"nil_variable", "NilVar"},
		{"wrong_signature", "WrongType"},
		{"not_a_function", "NotAFunc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if f := Resolve[deviceFunc](h, tt.symbol); f.Present() {
				t.Fatalf("expected %s to be absent", tt.symbol)
			}
		})
	}

	t.Run("nil_handle", func(t *testing.T) {
		if f := Resolve[deviceFunc](nil, "Direct"); f.Present() {
			t.Fatalf("expected nil handle to resolve nothing")
		}
	})
}

func TestStaticOpener_NotFound(t *testing.T) {
	s := NewStaticOpener()
	_, err := s.Open("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStaticOpener_RegisterCopiesTable(t *testing.T) {
	s := NewStaticOpener()
	symbols := map[string]any{"A": func(uintptr) {}}
	s.Register("mod", symbols)
	delete(symbols, "A")

	h, err := s.Open("mod")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := h.Lookup("A"); !ok {
		t.Fatalf("registered table must not alias the caller's map")
	}
	if h.Name() != "mod" || h.Path() != "static:mod" {
		t.Fatalf("unexpected handle identity: %s %s", h.Name(), h.Path())
	}
}

func TestChain(t *testing.T) {
	first := NewStaticOpener()
	second := NewStaticOpener()
	second.Register("b", nil)
	first.Register("a", nil)

	broken := errors.New("corrupt module")
	failing := OpenerFunc(func(name string) (Handle, error) {
		if name == "c" {
			return nil, broken
		}
		return nil, ErrNotFound
	})

	c := Chain(first, nil, failing, second)

	if h, err := c.Open("a"); err != nil || h.Name() != "a" {
		t.Fatalf("expected a from first opener, got %v %v", h, err)
	}
	if h, err := c.Open("b"); err != nil || h.Name() != "b" {
		t.Fatalf("expected b from second opener, got %v %v", h, err)
	}
	if _, err := c.Open("c"); !errors.Is(err, broken) {
		t.Fatalf("expected non-NotFound error to stop the chain, got %v", err)
	}
	if _, err := c.Open("d"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
