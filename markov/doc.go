// Package markov implements a first-order transition model over bytes.
//
// The model counts adjacent byte pairs in a training corpus and
// normalizes the counts per source byte into transition probabilities.
// The boundary detector in package chunker consults it to find
// statistically unusual byte transitions.
//
// A Model is built once by Train and is read-only afterwards; it is safe
// for concurrent Probability calls once training has returned.
package markov
