package ymodem

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synthread/go-iap-bootloader/flashdrv"
	"github.com/synthread/go-iap-bootloader/layout"
)

type recordingSink struct {
	bytes []byte
}

func (r *recordingSink) WriteByte(b byte) error {
	r.bytes = append(r.bytes, b)
	return nil
}

func (r *recordingSink) last() byte {
	if len(r.bytes) == 0 {
		return 0
	}
	return r.bytes[len(r.bytes)-1]
}

func headerFrame(fileSize int) []byte {
	frame := make([]byte, 3+128+2)
	frame[0] = ctrlSOH
	frame[1] = 0
	frame[2] = 0xFF
	name := []byte("firmware.bin")
	copy(frame[3:], name)
	sizeStr := []byte(strconv.Itoa(fileSize))
	copy(frame[3+len(name)+1:], sizeStr)
	return frame
}

func dataFrame(soh byte, block int, data []byte) []byte {
	frame := make([]byte, 3+block+2)
	frame[0] = soh
	frame[1] = 1
	frame[2] = 0xFF
	copy(frame[3:], data)
	crc := CRC16XModem(frame[3 : 3+block])
	frame[3+block] = byte(crc >> 8)
	frame[3+block+1] = byte(crc)
	return frame
}

func newTestSession(t *testing.T) (*Session, *flashdrv.RAMDevice, *recordingSink) {
	t.Helper()
	dev := flashdrv.NewRAMDevice(64*1024, layout.PageSize)
	drv := flashdrv.New(dev)
	sink := &recordingSink{}
	s := New(drv, sink)
	s.Arm(0)
	return s, dev, sink
}

func TestFullSessionHappyPath(t *testing.T) {
	s, dev, sink := newTestSession(t)

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, s.HandleFrame(headerFrame(len(payload))))
	require.Equal(t, StateReceiving, s.State())
	require.Equal(t, byte(ctrlC), sink.last())

	require.NoError(t, s.HandleFrame(dataFrame(ctrlSOH, blockSizeSOH, payload[0:128])))
	require.Equal(t, byte(ctrlACK), sink.last())
	require.NoError(t, s.HandleFrame(dataFrame(ctrlSOH, blockSizeSOH, payload[128:200])))
	require.Equal(t, byte(ctrlACK), sink.last())

	require.NoError(t, s.HandleFrame([]byte{ctrlEOT}))
	require.Equal(t, StateEndAck, s.State())
	require.Equal(t, byte(ctrlNAK), sink.last())

	require.NoError(t, s.HandleFrame([]byte{ctrlEOT}))
	require.Equal(t, StateClosing, s.State())
	require.Equal(t, byte(ctrlC), sink.last())

	select {
	case result := <-s.Done():
		require.Equal(t, uint32(len(payload)), result.BytesReceived)
	default:
		t.Fatal("expected a session result")
	}

	require.NoError(t, s.HandleFrame([]byte{ctrlSOH, 0, 0xFF}))
	require.Equal(t, byte(ctrlO), sink.last())
	require.Equal(t, StateWaitingHeader, s.State())

	out := make([]byte, len(payload))
	require.NoError(t, dev.ReadAt(0, out))
	require.Equal(t, payload, out)
}

func TestBadCrc16IsNakedAndNotWritten(t *testing.T) {
	s, dev, sink := newTestSession(t)

	payload := make([]byte, 128)
	require.NoError(t, s.HandleFrame(headerFrame(len(payload))))

	frame := dataFrame(ctrlSOH, blockSizeSOH, payload)
	frame[len(frame)-1] ^= 0xFF // corrupt the trailing CRC byte

	require.NoError(t, s.HandleFrame(frame))
	require.Equal(t, byte(ctrlNAK), sink.last())
	require.Equal(t, StateReceiving, s.State())

	out := make([]byte, len(payload))
	require.NoError(t, dev.ReadAt(0, out))
	for _, b := range out {
		require.Equal(t, byte(0xFF), b, "flash must remain erased after a NAK'd block")
	}
}

func TestUnexpectedByteWhileReceivingAborts(t *testing.T) {
	s, _, sink := newTestSession(t)
	require.NoError(t, s.HandleFrame(headerFrame(128)))

	require.NoError(t, s.HandleFrame([]byte{ctrlCAN}))
	require.Equal(t, StateWaitingHeader, s.State())
	require.Equal(t, byte(ctrlC), sink.last()) // no new byte written on abort
}

func TestReReceivingSameBlockIsIdempotent(t *testing.T) {
	s, dev1, _ := newTestSession(t)
	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(200 - i)
	}
	require.NoError(t, s.HandleFrame(headerFrame(len(payload))))
	frame := dataFrame(ctrlSOH, blockSizeSOH, payload)
	require.NoError(t, s.HandleFrame(frame))

	s2, dev2, _ := newTestSession(t)
	require.NoError(t, s2.HandleFrame(headerFrame(len(payload))))
	require.NoError(t, s2.HandleFrame(frame))
	require.NoError(t, s2.HandleFrame(frame))

	out1 := make([]byte, len(payload))
	out2 := make([]byte, len(payload))
	require.NoError(t, dev1.ReadAt(0, out1))
	require.NoError(t, dev2.ReadAt(0, out2))
	require.Equal(t, out1, out2)
}
