package ir

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// SymbolTable maps module-level symbol names to their defining ops.
//
// The table belongs to one Module and so is reset with every independent
// compilation. Names are NFC normalized on the way in, so two spellings of
// the same name can never become two symbols.
type SymbolTable struct {
	m     *Module
	names map[string]OpID
}

func newSymbolTable(m *Module) *SymbolTable {
	return &SymbolTable{m: m, names: make(map[string]OpID)}
}

// NormalizeSymbol returns the canonical spelling of a symbol name.
func NormalizeSymbol(name string) string {
	return norm.NFC.String(name)
}

// Lookup returns the op defining name, or NoOp.
func (s *SymbolTable) Lookup(name string) OpID {
	return s.names[NormalizeSymbol(name)]
}

// Contains reports whether name is taken.
func (s *SymbolTable) Contains(name string) bool {
	return s.Lookup(name).IsValid()
}

// Insert registers op under name. It fails if the name is taken.
func (s *SymbolTable) Insert(name string, op OpID) error {
	name = NormalizeSymbol(name)
	if prev, ok := s.names[name]; ok && prev != op {
		return fmt.Errorf("symbol @%s is already defined", name)
	}
	s.names[name] = op
	return nil
}

// Unique returns base if it is free, otherwise the first free name of the
// form base_1, base_2, ...
func (s *SymbolTable) Unique(base string) string {
	base = NormalizeSymbol(base)
	if !s.Contains(base) {
		return base
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if !s.Contains(name) {
			return name
		}
	}
}

// Len returns the number of registered symbols.
func (s *SymbolTable) Len() int { return len(s.names) }

func (s *SymbolTable) remove(name string, op OpID) {
	name = NormalizeSymbol(name)
	if s.names[name] == op {
		delete(s.names, name)
	}
}
