// Package plan turns declarative orchestration documents (YAML or JSON) into
// orchestration.Orchestration values. Tasks and predicates are referenced by
// name and resolved against a Registry of handlers.
package plan
