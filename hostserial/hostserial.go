// Package hostserial provides a go.bug.st/serial backed transport for
// running the bootloader's protocol stack on a host build: a real
// serial port (or a socat-paired virtual one) stands in for the
// target's UART peripheral, feeding serialframer.Framer and receiving
// the FSM's control-byte replies.
//
// This is a direct adaptation of the teacher's flash/serial.go: same
// serial.Mode construction, same read-loop-into-goroutine shape, same
// debug-log-on-tx/rx tracing.
package hostserial

import (
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// ErrClosed is returned by WriteByte on a Port that holds no serial
// port (a zero Port). WriteByte after Close returns the serial
// library's own write error instead.
var ErrClosed = errors.New("hostserial: port is closed")

// DefaultBaud matches the reference MCU's UART configuration.
const DefaultBaud = 115200

// Port wraps an open serial.Port, delivering received bytes to a
// callback (typically serialframer.Framer.PutByte) and exposing
// WriteByte for the FSM's replies, satisfying ymodem.Sink.
type Port struct {
	port serial.Port

	onByte func(byte)
	stopCh chan struct{}
}

// Open opens tty at baud and starts the receive loop, calling onByte
// for every byte read.
func Open(tty string, baud int, onByte func(byte)) (*Port, error) {
	sp, err := serial.Open(tty, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "hostserial: open")
	}

	p := &Port{port: sp, onByte: onByte, stopCh: make(chan struct{})}
	go p.rx()

	logrus.WithField("tty", tty).Debug("hostserial: port open")
	return p, nil
}

func (p *Port) rx() {
	buf := make([]byte, 256)
	for {
		n, err := p.port.Read(buf)
		if err != nil {
			select {
			case <-p.stopCh:
				return
			default:
			}
			if errors.Is(err, syscall.EBADF) {
				return
			}
			if perr, ok := err.(*serial.PortError); ok && perr.Code() == serial.PortClosed {
				return
			}
			logrus.WithError(err).Error("hostserial: rx error")
			return
		}
		for _, b := range buf[:n] {
			p.onByte(b)
		}
		if n > 0 {
			logrus.Debugf("hostserial: rx %x", buf[:n])
		}
	}
}

// WriteByte writes a single control byte, satisfying ymodem.Sink.
func (p *Port) WriteByte(b byte) error {
	if p.port == nil {
		return ErrClosed
	}
	if _, err := p.port.Write([]byte{b}); err != nil {
		return errors.Wrap(err, "hostserial: write")
	}
	logrus.Debugf("hostserial: tx %x", b)
	return nil
}

// Close stops the receive loop and closes the port.
func (p *Port) Close() error {
	close(p.stopCh)
	err := p.port.Close()
	logrus.Debug("hostserial: port closed")
	return err
}
