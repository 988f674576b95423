// Command iapsim is the host-side session driver used for integration
// testing: it plays either side of a YMODEM-1K firmware update over a
// real or socat-paired virtual serial port, the way
// original_source/tools/firmware_update.py plays the sender side of
// the reference implementation.
//
// In -mode=send it is a firmware update tool: it waits for a
// bootloader's kickoff and streams a file into it. In -mode=listen it
// is a simulated target: a RAM-backed flashdrv.Device behind a full
// bootorch.Orchestrator, so the sender side can be exercised without
// real hardware.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-iap-bootloader/bootorch"
	"github.com/synthread/go-iap-bootloader/flashdrv"
	"github.com/synthread/go-iap-bootloader/hostgpio"
	"github.com/synthread/go-iap-bootloader/hostserial"
	"github.com/synthread/go-iap-bootloader/layout"
)

func main() {
	var (
		port         = flag.String("port", "", "serial port device (e.g. /dev/ttyUSB0 or a socat-paired pty)")
		baud         = flag.Int("baud", hostserial.DefaultBaud, "serial baud rate")
		mode         = flag.String("mode", "send", "send: play the firmware-update tool; listen: simulate a target device")
		file         = flag.String("file", "", "raw application binary to send (send mode); a synthetic payload is used if empty")
		indicatorPin = flag.Uint("indicator-pin", 0, "GPIO line driving the status indicator (listen mode)")
		keyPin       = flag.Uint("key-pin", 0, "GPIO line reading the force-upgrade key (listen mode)")
		verbose      = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *port == "" {
		logrus.Fatal("iapsim: -port is required")
	}

	var err error
	switch *mode {
	case "send":
		err = runSend(*port, *baud, *file)
	case "listen":
		err = runListen(*port, *baud, *indicatorPin, *keyPin)
	default:
		logrus.Fatalf("iapsim: unknown -mode %q", *mode)
	}
	if err != nil {
		logrus.WithError(err).Fatal("iapsim: exiting")
	}
}

func runListen(port string, baud int, indicatorPin, keyPin uint) error {
	dev := flashdrv.NewRAMDevice(64*1024, layout.PageSize)
	drv := flashdrv.New(dev)

	var opts []bootorch.Option
	if indicatorPin != 0 {
		pin, err := hostgpio.NewIndicatorPin(indicatorPin)
		if err != nil {
			return errors.Wrap(err, "iapsim: open indicator pin")
		}
		defer pin.Close()
		opts = append(opts, bootorch.WithIndicator(pin))
	}
	if keyPin != 0 {
		pin, err := hostgpio.NewKeyPin(keyPin)
		if err != nil {
			return errors.Wrap(err, "iapsim: open key pin")
		}
		defer pin.Close()
		opts = append(opts, bootorch.WithKeyReader(pin))
	}

	var sp *hostserial.Port
	var orch *bootorch.Orchestrator
	sp, err := hostserial.Open(port, baud, func(b byte) { orch.PutByte(b) })
	if err != nil {
		return errors.Wrap(err, "iapsim: open serial port")
	}
	defer sp.Close()

	orch = bootorch.New(drv, sp, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		logrus.Info("iapsim: interrupted, cancelling")
		cancel()
	}()

	logrus.WithField("port", port).Info("iapsim: listening as simulated target")
	rec, err := orch.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "iapsim: orchestrator run")
	}

	logrus.WithFields(logrus.Fields{
		"bank":         rec.Bank,
		"sp":           rec.StackPointer,
		"reset_vector": rec.ResetVector,
	}).Info("iapsim: hand-off complete")
	return nil
}

func runSend(port string, baud int, file string) error {
	payload, err := loadPayload(file)
	if err != nil {
		return err
	}

	replies := make(chan byte, 256)
	sp, err := hostserial.Open(port, baud, func(b byte) { replies <- b })
	if err != nil {
		return errors.Wrap(err, "iapsim: open serial port")
	}
	defer sp.Close()

	sender := newSender(sp, replies)
	logrus.WithField("bytes", len(payload)).Info("iapsim: sending firmware")
	if err := sender.send(payload); err != nil {
		return errors.Wrap(err, "iapsim: send")
	}

	logrus.Info("iapsim: transfer complete")
	return nil
}

func loadPayload(file string) ([]byte, error) {
	if file == "" {
		return syntheticPayload(2048), nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "iapsim: read firmware file")
	}
	return raw, nil
}

// syntheticPayload builds a payload that passes image.Verify on its
// own: a RAM-resident stack pointer and reset vector in the first two
// words, matching the vector-table convention spec.md §3 describes,
// followed by filler bytes.
func syntheticPayload(n int) []byte {
	buf := make([]byte, n)
	binary.LittleEndian.PutUint32(buf[0:4], 0x20001000)
	binary.LittleEndian.PutUint32(buf[4:8], 0x08004009)
	for i := 8; i < len(buf); i++ {
		buf[i] = byte(i)
	}
	return buf
}

var errReplyTimeout = errors.New("iapsim: timed out waiting for a reply byte")

func waitByte(replies <-chan byte, timeout time.Duration) (byte, error) {
	select {
	case b := <-replies:
		return b, nil
	case <-time.After(timeout):
		return 0, errReplyTimeout
	}
}
