package bootorch

import "time"

type noopIndicator struct{}

func (noopIndicator) Set(bool) {}

type noopKeyReader struct{}

func (noopKeyReader) Pressed() bool { return false }

type orchestratorConfig struct {
	frameTimeout time.Duration
	maxBootRetry uint8
	kickoffEvery time.Duration
	indicator    Indicator
	key          KeyReader
	handOff      HandOff
}

func defaultConfig() orchestratorConfig {
	return orchestratorConfig{
		frameTimeout: 20 * time.Millisecond,
		maxBootRetry: 3,
		kickoffEvery: 3 * time.Second,
		indicator:    noopIndicator{},
		key:          noopKeyReader{},
		handOff:      NewHandOff(),
	}
}

// Option configures an Orchestrator at construction time.
type Option func(*orchestratorConfig)

// WithFrameTimeout overrides the serial framer's inter-byte quiescence
// window (see serialframer.WithFrameTimeout).
func WithFrameTimeout(d time.Duration) Option {
	return func(c *orchestratorConfig) { c.frameTimeout = d }
}

// WithMaxBootRetry overrides the boot-counter threshold used only when
// InitDefault has to fabricate a fresh config record; an existing
// record's own max_boot_retry field always takes precedence.
func WithMaxBootRetry(n uint8) Option {
	return func(c *orchestratorConfig) { c.maxBootRetry = n }
}

// WithKickoffInterval overrides how often the orchestrator resends the
// YMODEM-1K 'C' byte while waiting for a header block.
func WithKickoffInterval(d time.Duration) Option {
	return func(c *orchestratorConfig) { c.kickoffEvery = d }
}

// WithIndicator supplies the status/progress output. Absent this
// option the indicator is a no-op, which is what host tests want.
func WithIndicator(ind Indicator) Option {
	return func(c *orchestratorConfig) { c.indicator = ind }
}

// WithKeyReader supplies the force-upgrade input. Absent this option
// the key always reads as not-pressed.
func WithKeyReader(k KeyReader) Option {
	return func(c *orchestratorConfig) { c.key = k }
}

// WithHandOff overrides the hand-off primitive, mainly so tests can
// observe or fail a hand-off without a real jump.
func WithHandOff(h HandOff) Option {
	return func(c *orchestratorConfig) { c.handOff = h }
}
