// Package bootorch implements the boot orchestrator (C7): the startup
// sequence that reads the config record, decides between booting,
// rolling back, or entering an upgrade, and drives the YMODEM-1K
// receiver and status indicator along the way.
//
// It is the one package allowed to depend on every other component --
// flashdrv, cfgstore, image, ymodem, serialframer -- because it alone
// owns the cross-component decisions spec.md §4.7 describes. Every
// other package stays acyclic by taking what it needs as parameters
// instead of reaching for cfgstore or bootorch itself.
package bootorch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-iap-bootloader/cfgstore"
	"github.com/synthread/go-iap-bootloader/flashdrv"
	"github.com/synthread/go-iap-bootloader/image"
	"github.com/synthread/go-iap-bootloader/layout"
	"github.com/synthread/go-iap-bootloader/serialframer"
	"github.com/synthread/go-iap-bootloader/ymodem"
)

// Orchestrator composes the flash driver, config store, protocol
// session and status indicator into the startup sequence of spec.md
// §4.7.
type Orchestrator struct {
	drv     *flashdrv.Driver
	store   *cfgstore.Store
	session *ymodem.Session
	framer  *serialframer.Framer
	seq     *IndicatorSequencer
	cfg     orchestratorConfig
}

// New builds an Orchestrator over drv, writing YMODEM-1K control bytes
// to sink. Received bytes are delivered to it via PutByte, typically wired to
// a transport's receive callback (hostserial.Open's onByte, or an
// MMIO UART RX interrupt handler on a target build).
func New(drv *flashdrv.Driver, sink ymodem.Sink, opts ...Option) *Orchestrator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Orchestrator{
		drv:     drv,
		store:   cfgstore.New(drv),
		session: ymodem.New(drv, sink),
		cfg:     cfg,
		seq:     NewIndicatorSequencer(cfg.indicator),
	}
	o.framer = serialframer.New(o.onFrame, serialframer.WithFrameTimeout(cfg.frameTimeout))
	return o
}

// PutByte feeds one received byte into the serial framer.
func (o *Orchestrator) PutByte(b byte) {
	o.framer.PutByte(b)
}

func (o *Orchestrator) onFrame(frame []byte) {
	if err := o.session.HandleFrame(frame); err != nil {
		logrus.WithError(err).Error("bootorch: frame handling failed")
	}
}

// Run executes the startup sequence and returns the hand-off that was
// performed. On a target build HandOff.Execute never returns on
// success, so in practice Run only returns on a host build, on a
// fatal error surfaced through ctx cancellation, or on an upgrade that
// failed verification.
func (o *Orchestrator) Run(ctx context.Context) (HandOffRecord, error) {
	cfg, err := o.store.Read()
	if err != nil {
		logrus.WithError(err).Warn("bootorch: no valid config record, initializing default")
		o.seq.Pulse(StatusConfigDefaulted)
		cfg, err = o.initDefault()
		if err != nil {
			return HandOffRecord{}, o.fail(ctx, errors.Wrap(err, "bootorch: initialize default config"))
		}
	}

	if o.cfg.key.Pressed() || cfg.UpgradeStatus == cfgstore.StatusDownloading {
		logrus.Info("bootorch: entering upgrade (forced key or resumed download)")
		return o.runUpgrade(ctx, cfg)
	}

	return o.bootOrRollback(ctx, cfg)
}

func (o *Orchestrator) initDefault() (cfgstore.Config, error) {
	cfg, err := o.store.InitDefault()
	if err != nil {
		return cfgstore.Config{}, err
	}
	if o.cfg.maxBootRetry != cfgstore.DefaultMaxBootRetry {
		cfg.MaxBootRetry = o.cfg.maxBootRetry
		if err := o.store.Save(cfg); err != nil {
			return cfgstore.Config{}, err
		}
	}
	return cfg, nil
}

func (o *Orchestrator) verify(bank layout.Bank, cfg cfgstore.Config) error {
	return image.Verify(o.drv, bank.Offset(), cfg.BankInfo(bank))
}

func (o *Orchestrator) bootOrRollback(ctx context.Context, cfg cfgstore.Config) (HandOffRecord, error) {
	activeErr := o.verify(cfg.ActiveBank, cfg)
	otherBank := cfg.ActiveBank.Other()
	otherErr := o.verify(otherBank, cfg)

	if activeErr != nil && otherErr != nil {
		logrus.Warn("bootorch: both banks failed verification, waiting for upgrade")
		o.seq.Pulse(StatusNoValidFirmware)
		return o.runUpgrade(ctx, cfg)
	}

	if activeErr != nil {
		logrus.WithError(activeErr).Warn("bootorch: active bank failed verification, switching")
		o.seq.Pulse(StatusCrcFailed)
		cfg.ActiveBank = otherBank
		cfg.BootCount = 0
		if err := o.store.Save(cfg); err != nil {
			return HandOffRecord{}, o.fail(ctx, err)
		}
		return o.handOffTo(cfg.ActiveBank)
	}

	cfg.BootCount++
	if cfg.BootCount > cfg.MaxBootRetry {
		logrus.WithField("boot_count", cfg.BootCount).Warn("bootorch: boot retry threshold exceeded")
		o.seq.Pulse(StatusBankSwitched)
		if otherErr == nil {
			cfg.ActiveBank = otherBank
		}
		cfg.BootCount = 0
	}

	if err := o.store.Save(cfg); err != nil {
		return HandOffRecord{}, o.fail(ctx, err)
	}
	return o.handOffTo(cfg.ActiveBank)
}

// runUpgrade drives the UPGRADE sub-flow of spec.md §4.7: arm the
// receiver at the non-active bank, kick off the transfer, wait for
// completion, then verify and install what arrived. It is also the
// entry point for the WAIT-FOR-UPGRADE state, since the receiver has
// to stay live for the host to detect the waiting device either way.
func (o *Orchestrator) runUpgrade(ctx context.Context, cfg cfgstore.Config) (HandOffRecord, error) {
	target := cfg.ActiveBank.Other()

	cfg.UpgradeStatus = cfgstore.StatusDownloading
	if err := o.store.Save(cfg); err != nil {
		return HandOffRecord{}, o.fail(ctx, err)
	}

	o.session.Arm(target.Offset())

	blinkCtx, cancelBlink := context.WithCancel(ctx)
	defer cancelBlink()
	go o.seq.Blink(blinkCtx, 100*time.Millisecond)

	if err := o.session.Kickoff(); err != nil {
		return HandOffRecord{}, o.fail(ctx, err)
	}

	result, err := o.awaitTransfer(ctx)
	if err != nil {
		return HandOffRecord{}, err
	}
	cancelBlink()

	logrus.WithField("bytes_received", result.BytesReceived).Info("bootorch: transfer complete, verifying")
	return o.installTransfer(ctx, cfg, target)
}

func (o *Orchestrator) awaitTransfer(ctx context.Context) (ymodem.SessionResult, error) {
	ticker := time.NewTicker(o.cfg.kickoffEvery)
	defer ticker.Stop()

	for {
		select {
		case result := <-o.session.Done():
			return result, nil
		case <-ticker.C:
			if o.session.State() != ymodem.StateWaitingHeader {
				continue
			}
			if err := o.session.Kickoff(); err != nil {
				logrus.WithError(err).Warn("bootorch: kickoff retry failed")
			}
		case <-ctx.Done():
			return ymodem.SessionResult{}, ctx.Err()
		}
	}
}

func (o *Orchestrator) installTransfer(ctx context.Context, cfg cfgstore.Config, target layout.Bank) (HandOffRecord, error) {
	cfg.UpgradeStatus = cfgstore.StatusVerifying
	if err := o.store.Save(cfg); err != nil {
		return HandOffRecord{}, o.fail(ctx, err)
	}

	header, err := image.ParseHeader(o.drv, target.Offset())
	if err != nil {
		return HandOffRecord{}, o.failUpgrade(cfg, err)
	}

	// A freshly received header's is_valid byte reflects whatever the
	// sender wrote, not whether the payload actually checks out --
	// that's the config record's job, set by MarkFirmwareValid below
	// once this pre-check passes. Verify against a copy so the check
	// exercises the same five conditions a boot-time reverify would.
	candidate := header
	candidate.IsValid = image.ValidMarker
	if err := image.Verify(o.drv, target.Offset(), candidate); err != nil {
		return HandOffRecord{}, o.failUpgrade(cfg, err)
	}

	cfg.UpgradeStatus = cfgstore.StatusInstalling
	if err := o.store.Save(cfg); err != nil {
		return HandOffRecord{}, o.fail(ctx, err)
	}

	cfg, err = o.store.MarkFirmwareValid(cfg, target, header)
	if err != nil {
		return HandOffRecord{}, o.fail(ctx, err)
	}

	cfg.ActiveBank = target
	cfg.BootCount = 0
	cfg.UpgradeStatus = cfgstore.StatusSuccess
	if err := o.store.Save(cfg); err != nil {
		return HandOffRecord{}, o.fail(ctx, err)
	}

	return o.handOffTo(target)
}

func (o *Orchestrator) failUpgrade(cfg cfgstore.Config, cause error) error {
	logrus.WithError(cause).Error("bootorch: upgrade failed verification")
	cfg.UpgradeStatus = cfgstore.StatusFailed
	if err := o.store.Save(cfg); err != nil {
		logrus.WithError(err).Error("bootorch: failed to persist FAILED status")
	}
	o.seq.Pulse(StatusCrcFailed)
	return errors.Wrap(ErrUpgradeFailed, cause.Error())
}

func (o *Orchestrator) handOffTo(bank layout.Bank) (HandOffRecord, error) {
	sp, err := image.StackPointer(o.drv, bank.Offset())
	if err != nil {
		return HandOffRecord{}, err
	}
	resetVector, err := image.ResetVector(o.drv, bank.Offset())
	if err != nil {
		return HandOffRecord{}, err
	}

	logrus.WithFields(logrus.Fields{"bank": bank, "sp": sp, "reset_vector": resetVector}).Info("bootorch: hand-off")
	return o.cfg.handOff.Execute(bank, sp, resetVector)
}

// fail announces StatusUnknownError until ctx is cancelled, then
// returns cause. A production build passes context.Background(), so
// this genuinely never returns -- the indicator becomes the only
// remaining output of a bootloader that cannot make progress.
func (o *Orchestrator) fail(ctx context.Context, cause error) error {
	logrus.WithError(cause).Error("bootorch: unrecoverable error")
	for {
		select {
		case <-ctx.Done():
			return cause
		default:
			o.seq.Pulse(StatusUnknownError)
		}
	}
}
