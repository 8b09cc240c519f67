// Package harness runs YAML lowering scenarios end to end.
//
// A scenario names a sample program, its parameters and an optional
// configuration. The harness builds the module, runs the pass pipeline,
// loads the result into a fresh engine, calls the entry function and
// checks the outcome against the scenario's expect block:
//
//	name: reduce_sum
//	description: integer reduction lowered to a runtime parallel-for
//	sample: reduce-sum
//	params: {n: 100, max_concurrency: 4}
//	expect:
//	  results: [4950]
//	  op_counts: {util.parallel: 0}
//	  allocs: 0
//	  stack_allocs: 1
//
// Module handles come from testutil.SequentialHandles so repeated runs
// produce identical snapshots. Golden snapshots live in testdata/golden
// and are regenerated with:
//
//	go test ./internal/harness -update
package harness
