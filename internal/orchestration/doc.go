// Package orchestration implements the multi-level task orchestration engine.
//
// An Orchestration is an ordered list of Levels. Each Level runs under one of
// five strategies (sequential, parallel, conditional, iterative, transcendent)
// behind a FIFO admission permit. Outcomes are scored, appended to a bounded
// history ledger, and broadcast as best-effort progress events.
package orchestration
