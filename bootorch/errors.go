package bootorch

import "github.com/pkg/errors"

// ErrUpgradeFailed wraps a verification failure at the end of an
// upgrade sub-flow, distinguishing it from a fatal flash/config I/O
// error.
var ErrUpgradeFailed = errors.New("bootorch: upgrade failed verification")
