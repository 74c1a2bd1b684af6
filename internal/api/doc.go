// Package api exposes the orchestration engine over HTTP: submitting
// declarative orchestration documents, reading the history ledger and its
// aggregates, health and Prometheus metrics.
package api
