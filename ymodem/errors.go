package ymodem

import "github.com/pkg/errors"

// ErrProtocolOutOfSequence names the condition of a frame arriving that
// the current state does not expect. Session never returns it: such a
// frame is logged and the session reset to StateWaitingHeader (or,
// while already waiting for a header, ignored).
var ErrProtocolOutOfSequence = errors.New("ymodem: protocol out of sequence")
