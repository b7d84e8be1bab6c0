package syncrange

import "errors"

// ErrNonMonotonicProgress is logged (not returned) when RemoveRequestsUpTo
// is called with a height below last_validated_height; the call becomes a
// no-op rather than corrupting the tracker's progress invariant.
var ErrNonMonotonicProgress = errors.New("non-monotonic progress: height is behind last validated height")
