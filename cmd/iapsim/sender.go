package main

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-iap-bootloader/crc32eng"
	"github.com/synthread/go-iap-bootloader/hostserial"
	"github.com/synthread/go-iap-bootloader/image"
	"github.com/synthread/go-iap-bootloader/ymodem"
)

// Control bytes, mirroring ymodem's private set -- this package plays
// the other end of the same wire protocol, so it needs its own copy.
const (
	ctrlSOH byte = 0x01
	ctrlSTX byte = 0x02
	ctrlEOT byte = 0x04
	ctrlACK byte = 0x06
	ctrlNAK byte = 0x15
	ctrlC   byte = 0x43
	ctrlO   byte = 0x4F
)

const dataBlockSize = 1024

// sender plays the sender side of a YMODEM-1K session over a
// hostserial.Port, the way original_source/tools/firmware_update.py's
// SimpleYModemSender does: wait for sync, send the header block, send
// 1K data blocks with a per-block CRC-16 and a bounded retry count,
// then the double-EOT handshake.
type sender struct {
	port    *hostserial.Port
	replies <-chan byte
}

func newSender(port *hostserial.Port, replies <-chan byte) *sender {
	return &sender{port: port, replies: replies}
}

// send wraps payload in an image header and streams it, the way a
// real update tool sends an application image rather than a raw file.
func (s *sender) send(payload []byte) error {
	header := image.Header{
		Magic:         image.FirmwareMagic,
		FirmwareSize:  uint32(len(payload)),
		FirmwareCRC32: crc32eng.ChecksumBytes(payload),
	}
	full := append(image.Encode(header), payload...)

	if err := s.waitForSync(15 * time.Second); err != nil {
		return errors.Wrap(err, "waiting for device sync")
	}
	if err := s.sendHeader("firmware.bin", len(full)); err != nil {
		return errors.Wrap(err, "sending file header")
	}

	seq := byte(1)
	for offset := 0; offset < len(full); offset += dataBlockSize {
		block := full[offset:min(offset+dataBlockSize, len(full))]
		if err := s.sendDataBlockWithRetry(seq, block, 10); err != nil {
			return errors.Wrapf(err, "sending block %d", seq)
		}
		seq++
	}

	return s.sendEOTSequence()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *sender) writeBytes(data []byte) error {
	for _, b := range data {
		if err := s.port.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *sender) waitForSync(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b, err := waitByte(s.replies, 1*time.Second)
		if err == nil && b == ctrlC {
			logrus.Debug("iapsim: sync 'C' received")
			return nil
		}
	}
	return errors.New("sync timed out")
}

func (s *sender) sendHeader(filename string, fileSize int) error {
	block := make([]byte, 3+128+2)
	block[0] = ctrlSOH
	block[1] = 0
	block[2] = 0xFF

	i := 3
	i += copy(block[i:], filename)
	block[i] = 0
	i++
	i += copy(block[i:], strconv.Itoa(fileSize))

	crc := ymodem.CRC16XModem(block[3:131])
	block[131] = byte(crc >> 8)
	block[132] = byte(crc)

	for attempt := 0; attempt < 5; attempt++ {
		if err := s.writeBytes(block); err != nil {
			return err
		}
		ack, err := waitByte(s.replies, 3*time.Second)
		if err != nil || ack != ctrlACK {
			continue
		}
		second, err := waitByte(s.replies, 3*time.Second)
		if err == nil && second == ctrlC {
			return nil
		}
	}
	return errors.New("no ACK/C after header block")
}

func (s *sender) sendDataBlockWithRetry(seq byte, data []byte, maxRetries int) error {
	padded := data
	if len(padded) < dataBlockSize {
		padded = make([]byte, dataBlockSize)
		copy(padded, data)
		for i := len(data); i < dataBlockSize; i++ {
			padded[i] = 0x1A
		}
	}

	block := make([]byte, 3+dataBlockSize+2)
	block[0] = ctrlSTX
	block[1] = seq
	block[2] = 0xFF - seq
	copy(block[3:], padded)
	crc := ymodem.CRC16XModem(padded)
	block[3+dataBlockSize] = byte(crc >> 8)
	block[3+dataBlockSize+1] = byte(crc)

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := s.writeBytes(block); err != nil {
			return err
		}
		reply, err := waitByte(s.replies, 10*time.Second)
		if err != nil {
			continue
		}
		if reply == ctrlACK {
			return nil
		}
		logrus.WithField("reply", reply).Debug("iapsim: block NAK'd or unexpected reply, retrying")
	}
	return errors.New("exhausted retries")
}

func (s *sender) sendEOTSequence() error {
	if err := s.port.WriteByte(ctrlEOT); err != nil {
		return err
	}
	if _, err := waitByte(s.replies, 3*time.Second); err != nil {
		return errors.Wrap(err, "waiting for first EOT NAK")
	}
	if err := s.port.WriteByte(ctrlEOT); err != nil {
		return err
	}
	ack, err := waitByte(s.replies, 3*time.Second)
	if err != nil || ack != ctrlACK {
		return errors.New("second EOT not ACK'd")
	}
	if _, err := waitByte(s.replies, 3*time.Second); err != nil {
		return errors.Wrap(err, "waiting for post-transfer 'C'")
	}
	return s.sendClosingBlock()
}

// sendClosingBlock sends the empty-filename header block that ends a
// YMODEM batch, per spec.md §4.4's CLOSING state.
func (s *sender) sendClosingBlock() error {
	block := make([]byte, 3+128+2)
	block[0] = ctrlSOH
	block[1] = 0
	block[2] = 0xFF
	crc := ymodem.CRC16XModem(block[3:131])
	block[131] = byte(crc >> 8)
	block[132] = byte(crc)

	if err := s.writeBytes(block); err != nil {
		return err
	}
	ack, err := waitByte(s.replies, 3*time.Second)
	if err != nil || ack != ctrlACK {
		return errors.New("closing block not ACK'd")
	}
	final, err := waitByte(s.replies, 3*time.Second)
	if err != nil || final != ctrlO {
		return errors.New("closing block not confirmed with 'O'")
	}
	return nil
}
