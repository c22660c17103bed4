// Package memo wraps directory-producing computations with the artifact
// cache.
//
// A computation is anything that can write its results into a directory.
// Wrapper.Run fingerprints the computation's identity, output directory and
// configuration, then either materializes a previously published result or
// runs the computation in a private work directory and publishes what it
// wrote.
//
// The flow for one call:
//  1. Build the key {identity, output, config} and fingerprint it
//  2. Resolve the cache root (context override, then registry)
//  3. If the entry exists: replace the output directory with it
//  4. Otherwise: compute into a work directory, publish, materialize
//
// Failed computations publish nothing and their error is returned as is.
package memo
