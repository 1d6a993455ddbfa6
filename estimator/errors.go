package estimator

import "errors"

// ErrBookNotReady is returned while the book is unseeded or stale. The
// caller retries after the feed resynchronizes.
var ErrBookNotReady = errors.New("order book not ready")
