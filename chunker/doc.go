// Package chunker splits a byte source into content-defined chunks.
//
// Boundary detection uses a double sliding window: two adjacent windows
// of w bytes advance in steps of w, and the single byte pair straddling
// the junction of the windows is scored against a markov.Model. A
// transition less likely than the threshold is treated as a content
// boundary and a cut is placed at the end of the second window.
//
// Because every cut decision depends only on bytes at and before the
// cut, inserting bytes at offset x leaves every chunk that ends at or
// before x untouched.
//
// Detection produces a plan of Ranges; Materialize turns a validated plan
// into Chunks carrying their bytes and a BLAKE3 fingerprint.
package chunker
