// Package ymodem implements the download protocol FSM (C4): the
// receiver side of YMODEM-1K, consuming frames coalesced by
// serialframer and streaming their payload into flash via flashdrv.
//
// Session is deliberately ignorant of the config record: it knows only
// a target flash address and a Sink to write control bytes back to.
// The orchestrator owns every config/status transition, breaking the
// orchestrator/protocol/config cycle spec.md §9 calls out in the
// source this is rewritten from.
package ymodem

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"

	"github.com/synthread/go-iap-bootloader/flashdrv"
	"github.com/synthread/go-iap-bootloader/layout"
)

// clamp returns the smaller of a and b. It replaces the block/remaining
// arithmetic that used to be inlined in handleDataBlock, the way the
// teacher's flash/util.go factors its own min out for reuse across
// stmCmdWriteMemory's chunking.
func clamp[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Control bytes, per spec.md §4.4/§6.
const (
	ctrlSOH byte = 0x01
	ctrlSTX byte = 0x02
	ctrlEOT byte = 0x04
	ctrlACK byte = 0x06
	ctrlNAK byte = 0x15
	ctrlCAN byte = 0x18
	ctrlC   byte = 0x43
	ctrlO   byte = 0x4F
)

// State is one of the four FSM states of spec.md §4.4.
type State int

const (
	StateWaitingHeader State = iota
	StateReceiving
	StateEndAck
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateWaitingHeader:
		return "WAITING_HEADER"
	case StateReceiving:
		return "RECEIVING"
	case StateEndAck:
		return "END_ACK"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

const (
	blockSizeSOH = 128
	blockSizeSTX = 1024
)

// Sink is where the FSM writes its control-byte replies -- the UART
// transmit path, in a real build, or an in-memory pipe in a host/test
// build.
type Sink interface {
	WriteByte(b byte) error
}

// SessionResult is delivered on Session.Done() when a transfer
// completes successfully.
type SessionResult struct {
	BytesReceived uint32
}

// Session is the YMODEM-1K receiver state machine.
type Session struct {
	drv  *flashdrv.Driver
	sink Sink

	state State

	targetBase  uint32
	writeCursor uint32

	bytesReceived uint32
	fileSize      uint32
	packetCount   int

	done chan SessionResult
}

// New creates a Session writing received data through drv and control
// bytes through sink. Call Arm before each transfer.
func New(drv *flashdrv.Driver, sink Sink) *Session {
	return &Session{drv: drv, sink: sink}
}

// Arm resets all session variables (spec.md §4.4's "zeroed in state 0"
// list) and prepares to receive into the bank starting at targetBase.
// It does not erase; erase happens on receipt of the header block,
// per the state table, so the bank stays intact until the host
// actually starts sending.
func (s *Session) Arm(targetBase uint32) {
	s.state = StateWaitingHeader
	s.targetBase = targetBase
	s.writeCursor = targetBase
	s.bytesReceived = 0
	s.fileSize = 0
	s.packetCount = 0
	s.done = make(chan SessionResult, 1)
}

// Done returns the channel a successful transfer's result is
// delivered on. The orchestrator blocks on this instead of spinning on
// a raw flag, per spec.md §9's design note.
func (s *Session) Done() <-chan SessionResult {
	return s.done
}

// Kickoff emits the initial 'C' that starts a YMODEM-1K session in
// CRC mode. The caller is responsible for repeating it on a retry
// timer until the state advances past StateWaitingHeader, per the
// wire protocol description in spec.md §6.
func (s *Session) Kickoff() error {
	return s.sink.WriteByte(ctrlC)
}

// State reports the session's current FSM state.
func (s *Session) State() State {
	return s.state
}

// HandleFrame processes one frame delivered by serialframer. It never
// returns an error for protocol-level problems (bad sequence, bad
// per-block CRC) -- those are handled entirely by NAKing or resetting
// state, per spec.md §7's disposition table. It returns an error only
// for flash or sink I/O failures, which the orchestrator treats as
// fatal for the target bank.
func (s *Session) HandleFrame(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}

	switch s.state {
	case StateWaitingHeader:
		return s.handleWaitingHeader(frame)
	case StateReceiving:
		return s.handleReceiving(frame)
	case StateEndAck:
		return s.handleEndAck(frame)
	case StateClosing:
		return s.handleClosing(frame)
	default:
		return nil
	}
}

func (s *Session) handleWaitingHeader(frame []byte) error {
	if frame[0] != ctrlSOH {
		logrus.WithField("byte", frame[0]).Debug("ymodem: waiting for header, ignoring frame")
		return nil
	}

	fileSize, ok := parseHeaderPayload(frame)
	if !ok {
		logrus.Warn("ymodem: malformed header block")
		return s.sink.WriteByte(ctrlNAK)
	}

	if err := s.drv.Erase(s.targetBase, layout.BankPages); err != nil {
		return err
	}

	s.fileSize = fileSize
	s.bytesReceived = 0
	s.writeCursor = s.targetBase
	s.packetCount = 0

	if err := s.sink.WriteByte(ctrlACK); err != nil {
		return err
	}
	if err := s.sink.WriteByte(ctrlC); err != nil {
		return err
	}

	s.state = StateReceiving
	return nil
}

// parseHeaderPayload extracts the decimal file size from a YMODEM
// header block: payload starts at frame offset 3 (after
// type/seq/~seq), a NUL-terminated filename, then a decimal size
// string, per spec.md §4.4.
func parseHeaderPayload(frame []byte) (uint32, bool) {
	if len(frame) < 4 {
		return 0, false
	}
	payload := frame[3:]

	nameEnd := -1
	for i, b := range payload {
		if b == 0 {
			nameEnd = i
			break
		}
	}
	if nameEnd < 0 || nameEnd == len(payload)-1 {
		return 0, false
	}

	rest := payload[nameEnd+1:]
	sizeEnd := len(rest)
	for i, b := range rest {
		if b == 0 || b == ' ' {
			sizeEnd = i
			break
		}
	}
	if sizeEnd == 0 {
		return 0, false
	}

	var size uint32
	for _, b := range rest[:sizeEnd] {
		if b < '0' || b > '9' {
			return 0, false
		}
		size = size*10 + uint32(b-'0')
	}
	return size, true
}

func (s *Session) handleReceiving(frame []byte) error {
	switch frame[0] {
	case ctrlSOH:
		return s.handleDataBlock(frame, blockSizeSOH)
	case ctrlSTX:
		return s.handleDataBlock(frame, blockSizeSTX)
	case ctrlEOT:
		// First EOT is NAK'd; the sender resends EOT and the second
		// one is ACK'd from StateEndAck, per spec.md §4.4/§6.
		s.state = StateEndAck
		return s.sink.WriteByte(ctrlNAK)
	default:
		logrus.WithField("byte", frame[0]).Warn("ymodem: unexpected frame while receiving, aborting session")
		s.state = StateWaitingHeader
		return nil
	}
}

func (s *Session) handleDataBlock(frame []byte, block int) error {
	const headerLen = 3
	if len(frame) < headerLen+block+2 {
		logrus.Warn("ymodem: short data block, NAK")
		return s.sink.WriteByte(ctrlNAK)
	}

	data := frame[headerLen : headerLen+block]
	gotCRC := uint16(frame[headerLen+block])<<8 | uint16(frame[headerLen+block+1])
	if CRC16XModem(data) != gotCRC {
		logrus.Warn("ymodem: block CRC-16 mismatch, NAK")
		return s.sink.WriteByte(ctrlNAK)
	}

	remaining := s.fileSize - s.bytesReceived
	toWrite := clamp(uint32(block), remaining)

	payload := data[:toWrite]
	if len(payload)%2 != 0 {
		padded := make([]byte, len(payload)+1)
		copy(padded, payload)
		padded[len(padded)-1] = 0xFF
		payload = padded
	}

	if err := s.drv.Program(s.writeCursor, payload); err != nil {
		return err
	}

	s.writeCursor += toWrite
	s.bytesReceived += toWrite
	s.packetCount++

	return s.sink.WriteByte(ctrlACK)
}

func (s *Session) handleEndAck(frame []byte) error {
	if frame[0] != ctrlEOT {
		logrus.WithField("byte", frame[0]).Warn("ymodem: expected second EOT, aborting session")
		s.state = StateWaitingHeader
		return nil
	}

	if err := s.sink.WriteByte(ctrlACK); err != nil {
		return err
	}
	if err := s.sink.WriteByte(ctrlC); err != nil {
		return err
	}

	select {
	case s.done <- SessionResult{BytesReceived: s.bytesReceived}:
	default:
	}

	s.state = StateClosing
	return nil
}

func (s *Session) handleClosing(frame []byte) error {
	defer func() { s.state = StateWaitingHeader }()

	if frame[0] != ctrlSOH {
		return nil
	}

	if err := s.sink.WriteByte(ctrlACK); err != nil {
		return err
	}
	return s.sink.WriteByte(ctrlO)
}
