package ymodem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrc16XmodemKnownVector(t *testing.T) {
	// "123456789" -> 0x31C3 is the standard CRC-16/XMODEM check value.
	require.Equal(t, uint16(0x31C3), CRC16XModem([]byte("123456789")))
}

func TestCrc16XmodemEmpty(t *testing.T) {
	require.Equal(t, uint16(0), CRC16XModem(nil))
}
