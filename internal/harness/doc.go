// Package harness runs YAML scenarios against model manifests.
//
// A scenario loads CUE model directories, drives a fresh engine through a
// list of steps, and validates the final state and the action trace.
//
// # Scenario Format
//
//	name: counter_basics
//	description: "What this scenario validates"
//	models:
//	  - ../models
//	tokens: [t1, t2]
//	steps:
//	  - register: {namespace: lists/l1, args: {title: Groceries}}
//	  - dispatch:
//	      action: counter/incrementTwice
//	      expect: {result: done}
//	  - dispatch:
//	      action: counter/fail
//	      expect: {error: refused}
//	  - reload:
//	      patch:
//	        - {namespace: counter, path: count, value: 10}
//	  - unregister: {namespace: lists/l1}
//	assertions:
//	  - {type: state, namespace: counter, path: count, equals: 10}
//	  - {type: registered, namespace: lists/l1, exists: false}
//	  - {type: getter, namespace: counter, getter: total, equals: 10}
//	  - {type: trace_contains, action: counter/addBy, payload: 3}
//	  - {type: trace_order, actions: [counter/increment, counter/reset]}
//	  - {type: trace_count, action: counter/increment, count: 2}
//
// # Assertion Types
//
//   - state: gjson path into the root state, or into one namespace's
//     sub-state when namespace is set; checks equals and/or exists
//   - registered: whether a container is bound at namespace
//   - getter: value of a getter of the container bound at namespace
//   - trace_contains: an action of the type with a payload containing payload
//   - trace_order: actions first appear in the given order
//   - trace_count: an action type appears exactly count times
//
// # Deterministic Testing
//
// Every run uses a private in-memory journal, tokens from the scenario
// (testutil.FixedTokens), and the engine's logical clock, so traces are
// identical across runs and can be compared with golden files.
package harness
