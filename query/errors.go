package query

import "errors"

var (
	// ErrStrictModeAborted is returned by RunQuery when a Tampered query
	// occurs under strict mode; the driver will not accept further
	// queries after this.
	ErrStrictModeAborted = errors.New("query: strict mode aborted run after a tampered query")

	// ErrDriverAborted is returned when RunQuery is called after a prior
	// strict-mode abort.
	ErrDriverAborted = errors.New("query: driver already aborted, no further queries accepted")

	// ErrConfiguration marks invalid startup parameters; the driver is
	// never constructed and the query loop is never entered.
	ErrConfiguration = errors.New("query: invalid configuration")

	// ErrResource is returned when a single read's page span exceeds
	// what the page cache can hold at once, so the query's working set
	// cannot stay resident within the configured budget. Raise
	// cache_size_mb to clear it.
	ErrResource = errors.New("query: page cache budget below the query working set, raise cache_size_mb")
)
