package validate

import "errors"

// ErrInvalidNetworkName is returned when a network namespace does not match
// the DNS-label format (1-63 lowercase alphanumeric + hyphens).
var ErrInvalidNetworkName = errors.New("invalid network name")
