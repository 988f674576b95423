package cfgstore

import "github.com/pkg/errors"

// ErrConfigAbsentOrCorrupt is returned by Read when the config area
// does not contain a record with a matching magic and CRC -- either
// because it has never been written (erased to 0xFF) or because a
// write was interrupted partway through, per spec.md I3.
var ErrConfigAbsentOrCorrupt = errors.New("cfgstore: config absent or corrupt")
