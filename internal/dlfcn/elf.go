package dlfcn

import (
	"debug/elf"
	"errors"
	"sort"
	"strings"
)

// ExportedSymbols lists the function symbols defined by the ELF module at
// path, from both .symtab and .dynsym. Go plugins keep their exported
// functions qualified by package path, e.g. "plugin/unnamed-1a2b.FunctionStart".
func ExportedSymbols(path string) ([]string, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	var syms []elf.Symbol
	if section := ef.Section(".symtab"); section != nil {
		if st, err := ef.Symbols(); err == nil {
			syms = append(syms, st...)
		}
	}
	if section := ef.Section(".dynsym"); section != nil {
		if st, err := ef.DynamicSymbols(); err == nil {
			syms = append(syms, st...)
		}
	}
	if len(syms) == 0 {
		return nil, errors.New("no symbol tables available in ELF")
	}

	seen := make(map[string]struct{}, len(syms))
	names := make([]string, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		if _, ok := seen[s.Name]; ok {
			continue
		}
		seen[s.Name] = struct{}{}
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Exports reports, for each wanted symbol, whether the module at path
// defines it, either under its bare name or package-qualified.
func Exports(path string, wanted ...string) (map[string]bool, error) {
	names, err := ExportedSymbols(path)
	if err != nil {
		return nil, err
	}
	return matchExports(names, wanted), nil
}

func matchExports(names []string, wanted []string) map[string]bool {
	out := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		out[w] = false
		for _, n := range names {
			if n == w || strings.HasSuffix(n, "."+w) {
				out[w] = true
				break
			}
		}
	}
	return out
}
