package proxy

// Error types attached to the errors returned by the package.
const (
	// The proxy source could not be read.
	ErrTypeIO = "proxy_io_error"

	// The proxy source was read but its content is malformed.
	ErrTypeFormat = "proxy_format_error"
)
