package repository

import "errors"

// ErrRateLimited is returned by HistoryClient when the provider answers
// with HTTP 429. Callers back off and retry the same page.
var ErrRateLimited = errors.New("provider rate limited")
