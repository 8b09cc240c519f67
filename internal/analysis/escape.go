package analysis

import "github.com/roach88/parlower/internal/ir"

// CanEscape reports whether the buffer v, the result of an allocation, may
// be observed through anything other than element loads and stores.
// Deallocating the original buffer is allowed; view-like users are
// followed recursively, and deallocating a view counts as an escape.
func CanEscape(m *ir.Module, v ir.ValueID) bool {
	return canEscape(m, v, true)
}

func canEscape(m *ir.Module, v ir.ValueID, original bool) bool {
	for _, use := range m.Uses(v) {
		user := use.Op
		kind := m.Kind(user)
		switch {
		case kind == ir.KindLoad && use.Index == 0:
			continue
		case kind == ir.KindStore && use.Index == 1:
			continue
		case kind == ir.KindDealloc && original:
			continue
		case kind == ir.KindDim && use.Index == 0:
			continue
		case kind.Has(ir.TraitViewLike) && use.Index == 0:
			if canEscape(m, m.Result(user, 0), false) {
				return true
			}
			continue
		}
		return true
	}
	return false
}
