// Package harness runs document-editing scenarios through the engine and
// records the decorations it applies.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:                 # optional, decoded over the defaults
//	  figures: { imagePrefix: "Figure" }
//	documents:
//	  - id: d1
//	    blocks:
//	      - { id: ha, type: h, subtype: h1, content: Intro }
//	      - id: sb
//	        type: s
//	        layout: row
//	        children:
//	          - { id: img, content: '<img src="a.png">' }
//	          - { id: cap, content: Revenue }
//	steps:
//	  - open: d1
//	  - ops:
//	      - { action: delete, id: ha }
//	  - message: '{"cmd":"ping"}'
//	  - config: { documents: { crossReference: false } }
//	  - refresh: d1
//	  - close: d1
//	assertions:
//	  - type: labels
//	    doc: d1
//	    scope: headings
//	    labels: ["1. "]
//
// # Assertion Types
//
//   - labels: the final derived labels of a document for one scope
//   - applied_count: how many times the decorations of a scope changed
//   - cleared: the scope has neither derived state nor decorations
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory block store, a manual
// clock and sequential session ids. The dispatcher runs without delay;
// after each step the harness waits for delivery, advances the clock past
// every recompute delay and waits for the engine to settle. The trace
// lists, per step, each (document, scope) whose decorations changed, so
// identical scenarios always produce identical traces.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/heading_insert.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
