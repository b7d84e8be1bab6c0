package syncrange

import "fmt"

// Range is an inclusive height range [Start, End].
type Range struct {
	Start Height
	End   Height
}

// Contains reports whether h falls within the inclusive range.
func (r Range) Contains(h Height) bool {
	return h >= r.Start && h <= r.End
}

// String renders the range the way the original logs it, e.g. "100..=149".
func (r Range) String() string {
	return fmt.Sprintf("%d..=%d", r.Start, r.End)
}
