// Package harness runs conformance scenarios against a real host.
//
// A scenario is a YAML file naming the modules it needs, a list of steps
// (deploy, call, upgrade, transfer_ownership) with optional expectations,
// and assertions over the final frames and the audit log:
//
//	name: upgrade_keeps_state
//	description: "Alice upgrades V1 to V2; the value survives"
//	steps:
//	  - action: deploy
//	    proxy: counter
//	    module: counter_v1
//	    by: alice
//	    args: {value: 7}
//	  - action: upgrade
//	    proxy: counter
//	    module: counter_v2
//	    by: alice
//	  - action: call
//	    proxy: counter
//	    entry: value
//	    by: bob
//	    expect: {result: 7}
//	assertions:
//	  - type: state
//	    proxy: counter
//	    expect: {value: 7, writes: 0}
//
// Each run uses a fresh in-memory store, sequential proxy addresses
// (proxy-1, proxy-2, ...) and an empty event log numbered from 1, so the
// recorded trace is deterministic and can be compared against a golden
// file. Module references in the trace are replaced by the label the
// scenario knows them by.
//
// The built-in counter modules are always available as counter_v1,
// counter_v2 and reordered_c. Scenarios can add modules from CUE
// manifests listed under "manifests".
package harness
