package fingerprint

import "errors"

var (
	// ErrUnsupportedValueKind reports an element that has no canonical form,
	// such as a func, a chan, or a cyclic pointer.
	ErrUnsupportedValueKind = errors.New("unsupported value kind")

	// ErrMalformedValue reports a structurally invalid value, such as a table
	// row whose arity does not match the column list.
	ErrMalformedValue = errors.New("malformed value")

	// ErrFileNotFound reports a missing path passed to FingerprintFile.
	// Errors carrying it also match fs.ErrNotExist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidFingerprint reports a string that is not a well-formed
	// fingerprint.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
)
