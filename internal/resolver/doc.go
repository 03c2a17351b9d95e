// Package resolver computes the transitive closure of a root project's
// reference declarations.
//
// The traversal uses an explicit work queue with a seen set keyed by
// normalized paths, so cyclic and duplicated reference graphs terminate and
// yield each project exactly once.
package resolver
