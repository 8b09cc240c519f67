// Package ir provides the arena-based intermediate representation that
// every lowering pass operates on.
//
// A Module owns dense arenas of operations, blocks, regions and values.
// Nodes refer to each other only through typed IDs (OpID, BlockID,
// RegionID, ValueID), including parent links, so rewrite-and-replace
// sequences can never leave a dangling reference behind: an erased op
// stays in the arena, flagged, and is skipped by walks.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key invariants:
//   - Every value has exactly one definition (op result or block argument)
//   - Use lists are maintained by every mutation (SetOperand, Erase, ...)
//   - An operand is defined in an enclosing block before its user, never
//     across a func.func boundary (see Verify)
//   - Symbol names are unique per Module and NFC normalized
package ir
