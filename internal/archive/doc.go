// Package archive builds deployment archives.
//
// Zip produces the initial archive of a source tree. Stager assembles a
// corrected archive containing referenced project trees, and Finalize commits
// it over the original with a delete-and-rename swap as the single visible
// mutation: any earlier failure leaves the original archive untouched.
package archive
