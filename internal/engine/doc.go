// Package engine loads lowered modules and runs them.
//
// ARCHITECTURE:
//
// Load clones the module, canonicalizes it at opt level 1 or higher,
// attaches host target attributes to every function, verifies it and
// resolves every declaration against user symbols and the runtime's entry
// points. The result is an immutable program shared by every handle of the
// same module hash.
//
// Programs are executed by a tree-walking evaluator over the IR. Values
// live in per-call frames; memory lives in runtime slot buffers, so
// util.parallel bodies outlined into nmrtParallelFor calls run on real
// goroutines against shared buffers.
//
// Call Conventions:
//   - Function.Call: internal convention, memrefs passed as Arrays
//   - Function.CallPacked: flat ABI produced by fix-func-abi; the engine
//     allocates the return and exception cells and decodes the status
//
// Errors are *EngineError values with stable codes. A malformed program
// that passed verification is an internal invariant violation and panics.
package engine
