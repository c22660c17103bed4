// Package fingerprint turns structured configuration values and file
// contents into stable content identifiers.
//
// # Canonical Values
//
// Every input is first reduced to a Value, a closed set of variants:
//
//   - Scalars: Null, Bool, Int, Uint, Float, Text, Bytes
//   - Sequence: ordered elements
//   - Mapping: named fields, unique names
//   - Table and RowStream: ordered rows under ordered column names
//
// Arbitrary Go values are reduced with From and YAML documents with
// FromYAML. Anything that cannot be reduced (functions, channels, cyclic
// pointers) fails with ErrUnsupportedValueKind instead of being skipped.
//
// # Canonical Encoding
//
// Values are serialized into the digest as tagged, length-prefixed frames.
// Mapping fields are sorted by name, so two mappings that differ only in
// construction order encode identically. Sequence order and Table row
// order are significant. Each Table row is reduced to its own sub-digest
// first, which keeps memory bounded for large tables.
//
// # Fingerprints
//
// An Engine owns the digest algorithm (SHA-256 or BLAKE3) and the
// fingerprint length. Fingerprints are lowercase hex, full length unless
// the engine was built WithLength.
package fingerprint
