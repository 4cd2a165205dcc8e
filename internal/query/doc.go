// Package query defines the engine-independent query intent: the predicate
// tree, sort keys, pagination and population requests accumulated by the
// query builder before a terminal operation runs.
//
// ARCHITECTURE:
//
// The predicate tree is the contract between the builder and the engines.
// Each engine owns exactly one translation from the tree to its native
// form:
//
//	[operator map] ─┐
//	                ├→ [Predicate] → sqlengine.compileWhere  → SQL + args
//	[keyword args] ─┘             → docengine.compileFilter → filter document
//
// Both user-facing syntaxes parse to the same canonical tree, so
//
//	FromOperatorMap(map[string]any{"rating": map[string]any{"$gt": 3}})
//	FromKeywords(map[string]any{"rating__gt": 3})
//
// yield identical values. Comparisons are ordered by field name, then
// operator, which keeps compiled statements deterministic.
//
// SEALED INTERFACES:
//
// Predicate is sealed with a marker method. Only Cmp, And and Or implement
// it, so engine translators can switch exhaustively.
//
// NULL SEMANTICS:
//
// Both engines agree on null and missing values:
//   - eq nil matches explicit null only
//   - ne v matches every value that is not v, including null and missing
//   - ne nil matches present, non-null values
//   - in never matches null or missing; an empty set matches nothing
//   - ordering operators never match null or missing; comparing against nil
//     is rejected by Validate
package query
