package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrNotAuthenticated indicates a request was attempted without a held token
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthenticationRequired indicates the backend asked for a fresh login
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrAccessDenied indicates the backend rejected the credentials
	ErrAccessDenied = errors.New("access denied")

	// ErrAuthLost indicates authentication cannot be recovered without user action
	ErrAuthLost = errors.New("authentication lost")

	// ErrBackendUnavailable indicates the backend is unreachable or overloaded
	ErrBackendUnavailable = errors.New("backend not available")

	// ErrBackendTimeout indicates the backend did not answer in time
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrBackendError indicates a generic server side failure
	ErrBackendError = errors.New("backend error")

	// ErrNetwork indicates a transport level failure
	ErrNetwork = errors.New("network error")

	// ErrTooManyRequests indicates the backend throttled the client
	ErrTooManyRequests = errors.New("too many requests")

	// ErrUnknownBackendResponse indicates a response with an unexpected shape
	ErrUnknownBackendResponse = errors.New("unknown backend response")

	// ErrManifestParse indicates a local manifest file could not be parsed
	ErrManifestParse = errors.New("failed parsing manifest")

	// ErrNotFound indicates the requested item does not exist
	ErrNotFound = errors.New("not found")

	// ErrCacheOutOfSync indicates an item expected in the cache is missing
	ErrCacheOutOfSync = errors.New("internal cache out of sync")

	// ErrNotSupported indicates the operation is unavailable on this platform
	ErrNotSupported = errors.New("not supported on this platform")

	// ErrScanInProgress indicates a local scan was skipped because one is running
	ErrScanInProgress = errors.New("local games scan in progress")
)

// IsTransient reports whether err is an outage independent of the token's validity.
// Transient failures never clear the held token.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrBackendTimeout) ||
		errors.Is(err, ErrBackendError) ||
		errors.Is(err, ErrNetwork)
}

// IsAuthRejection reports whether err means the backend refused the token
func IsAuthRejection(err error) bool {
	return errors.Is(err, ErrAuthenticationRequired) || errors.Is(err, ErrAccessDenied)
}
