// Package harness provides conformance testing for versioned relays.
//
// A scenario deploys backends from CUE manifests, wires relays and static
// callers between them, drives upgrades and rollbacks, and checks what the
// callers observe. The three reference scenarios are direct call-through,
// upgrade, and rollback.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: upgrade
//	description: "An upgrade is visible through an unchanged caller"
//	specs: ../specs
//	setup:
//	  - op: deploy_backend
//	    backend: UpgradeableV1
//	    as: v1
//	  - op: deploy_relay
//	    backend: v1
//	    version: 1
//	    as: proxy
//	flow:
//	  - op: static_caller
//	    target: proxy
//	    as: caller
//	  - op: call
//	    caller: caller
//	    signature: getUint()
//	    expect: {value: 1}
//	assertions:
//	  - type: relay_state
//	    relay: proxy
//	    backend: v1
//	    version: 1
//
// Names given with "as" are aliases; later steps may use an alias anywhere
// a handle is expected. A string that is not an alias is used as a raw
// handle, which is how scenarios exercise INVALID_TARGET.
//
// # Operations
//
//   - deploy_backend: compile the named manifest and deploy it
//   - deploy_relay: create a relay pointing at backend with version
//   - static_caller: bind a caller to target (a backend or a relay)
//   - register_size: register signature's result width on relay
//   - upgrade, rollback: point relay at backend with version
//   - call: invoke signature through caller and decode the result
//
// # Assertion Types
//
//   - trace_count: an operation appears exactly N times (optionally by outcome)
//   - trace_order: operations first appear in the given order
//   - trace_contains: a step with the given op and args was executed
//   - relay_state: a relay's current backend and version
//   - journal_count: number of journaled version changes for a relay
//
// # Deterministic Testing
//
// The harness uses:
//   - Sequential relay handles (testutil.SequentialHandleGenerator)
//   - Content-addressed backend handles (ir.BackendHandle)
//   - Deterministic logical clock (testutil.DeterministicClock)
//   - In-memory SQLite journal (isolated per run)
//
// This ensures identical traces across runs for golden file comparison.
package harness
