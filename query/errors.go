package query

import "github.com/cockroachdb/errors"

var (
	// ErrNoQueryFn is reported when a fetch runs without a query function.
	ErrNoQueryFn = errors.New("query: no query function configured")
	// ErrSkipToken is reported if a SkipToken query is fetched imperatively.
	ErrSkipToken = errors.New("query: fetch skipped by skip token")
	// ErrNoMutationFn is reported when a mutation runs without a function.
	ErrNoMutationFn = errors.New("query: no mutation function configured")
	// ErrNoResult names a fetch that settled without data or error. No
	// function in this module returns it.
	ErrNoResult = errors.New("query: fetch settled without a result")
	// ErrQueryNotFound names a lookup of an absent query. No function in
	// this module returns it; EnsureQueryData fetches a missing entry.
	ErrQueryNotFound = errors.New("query: not found")
)
