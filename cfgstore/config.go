// Package cfgstore implements the config manager (C6): the persistent,
// CRC-protected record that holds the A/B partitioning state --
// active bank, upgrade status, boot counter and per-bank image
// metadata.
//
// The record follows the same "packed struct, trailing CRC-32 over
// everything before it" discipline as fuchsia's ABR format
// (other_examples/vsrinivas-fuchsia__abr.go).
package cfgstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-iap-bootloader/crc32eng"
	"github.com/synthread/go-iap-bootloader/flashdrv"
	"github.com/synthread/go-iap-bootloader/image"
	"github.com/synthread/go-iap-bootloader/layout"
)

// Magic distinguishes a written record from erased (0xFF) flash.
const Magic uint32 = 0xA5A5A5A5

// DefaultMaxBootRetry is the boot-counter threshold above which
// rollback triggers, absent an explicit override.
const DefaultMaxBootRetry uint8 = 3

// UpgradeStatus is the upgrade_status field of the config record.
type UpgradeStatus uint8

const (
	StatusIdle UpgradeStatus = iota
	StatusDownloading
	StatusVerifying
	StatusInstalling
	StatusSuccess
	StatusFailed
)

func (s UpgradeStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusDownloading:
		return "DOWNLOADING"
	case StatusVerifying:
		return "VERIFYING"
	case StatusInstalling:
		return "INSTALLING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config is the persistent configuration record of spec.md §3.
type Config struct {
	Magic         uint32
	ActiveBank    layout.Bank
	UpgradeStatus UpgradeStatus
	BootCount     uint8
	MaxBootRetry  uint8
	BankAInfo     image.Header
	BankBInfo     image.Header
	ConfigCRC32   uint32
}

// EncodedSize is the on-flash length of a Config record.
const EncodedSize = 4 + 1 + 1 + 1 + 1 + image.Size + image.Size + 4

// BankInfo returns the metadata snapshot for the given bank.
func (c Config) BankInfo(b layout.Bank) image.Header {
	if b == layout.BankA {
		return c.BankAInfo
	}
	return c.BankBInfo
}

// withBankInfo returns a copy of c with the given bank's metadata
// replaced.
func (c Config) withBankInfo(b layout.Bank, info image.Header) Config {
	if b == layout.BankA {
		c.BankAInfo = info
	} else {
		c.BankBInfo = info
	}
	return c
}

func encode(c Config) []byte {
	buf := make([]byte, EncodedSize)
	binary.LittleEndian.PutUint32(buf[0:4], c.Magic)
	buf[4] = byte(c.ActiveBank)
	buf[5] = byte(c.UpgradeStatus)
	buf[6] = c.BootCount
	buf[7] = c.MaxBootRetry
	copy(buf[8:8+image.Size], image.Encode(c.BankAInfo))
	copy(buf[8+image.Size:8+2*image.Size], image.Encode(c.BankBInfo))
	// ConfigCRC32 is computed by the caller over buf[:len(buf)-4] and
	// appended separately -- see crcOf.
	binary.LittleEndian.PutUint32(buf[len(buf)-4:], c.ConfigCRC32)
	return buf
}

func decode(buf []byte) (Config, error) {
	if len(buf) < EncodedSize {
		return Config{}, errors.Errorf("cfgstore: short record (%d < %d)", len(buf), EncodedSize)
	}

	bankAInfo, err := image.Decode(buf[8 : 8+image.Size])
	if err != nil {
		return Config{}, err
	}
	bankBInfo, err := image.Decode(buf[8+image.Size : 8+2*image.Size])
	if err != nil {
		return Config{}, err
	}

	return Config{
		Magic:         binary.LittleEndian.Uint32(buf[0:4]),
		ActiveBank:    layout.Bank(buf[4]),
		UpgradeStatus: UpgradeStatus(buf[5]),
		BootCount:     buf[6],
		MaxBootRetry:  buf[7],
		BankAInfo:     bankAInfo,
		BankBInfo:     bankBInfo,
		ConfigCRC32:   binary.LittleEndian.Uint32(buf[EncodedSize-4:]),
	}, nil
}

// crcOf computes the CRC-32 over every field except ConfigCRC32
// itself, per spec.md §4.6.
func crcOf(c Config) uint32 {
	buf := encode(c)
	return crc32eng.ChecksumBytes(buf[:len(buf)-4])
}

// Store reads and writes the config record through a flashdrv.Driver.
type Store struct {
	drv *flashdrv.Driver
}

// New wraps drv in a Store operating on the config area described by
// layout.ConfigOffset/layout.ConfigSize/layout.ConfigPages.
func New(drv *flashdrv.Driver) *Store {
	return &Store{drv: drv}
}

// Read reads the config record, checks magic and CRC, and returns the
// struct or ErrConfigAbsentOrCorrupt. A half-written record (power
// loss mid-Save) is indistinguishable from an absent one: both fail
// the CRC/magic check, per I3.
func (s *Store) Read() (Config, error) {
	buf := make([]byte, EncodedSize)
	if err := s.drv.Read(layout.ConfigOffset, buf); err != nil {
		return Config{}, errors.Wrap(err, "cfgstore: read")
	}

	cfg, err := decode(buf)
	if err != nil {
		return Config{}, errors.Wrap(ErrConfigAbsentOrCorrupt, err.Error())
	}
	if cfg.Magic != Magic {
		return Config{}, errors.Wrapf(ErrConfigAbsentOrCorrupt, "magic 0x%08X", cfg.Magic)
	}
	if crcOf(cfg) != cfg.ConfigCRC32 {
		return Config{}, errors.Wrapf(ErrConfigAbsentOrCorrupt, "crc mismatch (have 0x%08X, want 0x%08X)", crcOf(cfg), cfg.ConfigCRC32)
	}

	return cfg, nil
}

// Save computes the record's CRC, erases the config area, and
// programs the new record. The erase-then-program sequence is the
// only atomicity primitive available: a save truncated by power loss
// leaves a record that fails Read's CRC/magic check rather than
// silently returning a different valid-looking record.
func (s *Store) Save(cfg Config) error {
	cfg.Magic = Magic
	cfg.ConfigCRC32 = crcOf(cfg)

	logrus.WithFields(logrus.Fields{
		"active_bank": cfg.ActiveBank,
		"status":      cfg.UpgradeStatus,
		"boot_count":  cfg.BootCount,
	}).Info("cfgstore: save")

	if err := s.drv.Erase(layout.ConfigOffset, layout.ConfigPages); err != nil {
		return errors.Wrap(err, "cfgstore: erase")
	}

	buf := encode(cfg)
	if len(buf)%2 != 0 {
		buf = append(buf, 0xFF)
	}
	if err := s.drv.Program(layout.ConfigOffset, buf); err != nil {
		return errors.Wrap(err, "cfgstore: program")
	}

	return nil
}

// InitDefault populates and saves a fresh record: both banks invalid,
// active_bank=BankB (so the first upgrade targets bank A), status
// IDLE, max_boot_retry at its default.
func (s *Store) InitDefault() (Config, error) {
	cfg := Config{
		Magic:         Magic,
		ActiveBank:    layout.BankB,
		UpgradeStatus: StatusIdle,
		BootCount:     0,
		MaxBootRetry:  DefaultMaxBootRetry,
	}
	logrus.Info("cfgstore: initializing default config")
	if err := s.Save(cfg); err != nil {
		return Config{}, err
	}
	cfg.ConfigCRC32 = crcOf(cfg)
	return cfg, nil
}

// MarkFirmwareValid overwrites the given bank's metadata with info,
// marks it valid, and saves.
func (s *Store) MarkFirmwareValid(cfg Config, bank layout.Bank, info image.Header) (Config, error) {
	info.IsValid = image.ValidMarker
	cfg = cfg.withBankInfo(bank, info)
	if err := s.Save(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
