package resolve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/vibot/internal/playback"
	"github.com/MrWong99/vibot/internal/resilience"
	"github.com/MrWong99/vibot/pkg/audio"
)

// DefaultStartTimeout bounds how long a source may take to produce its
// first frame of audio.
const DefaultStartTimeout = 30 * time.Second

// primeBufferSize is the read buffer placed in front of every stream.
const primeBufferSize = 16 * audio.FrameBytes

// ErrEmptyStream is returned when a source ends before producing any audio.
var ErrEmptyStream = errors.New("resolve: source produced no audio")

// ChainConfig configures a [Chain].
type ChainConfig struct {
	// Hosts admits locators. Nil admits every http(s) URL.
	Hosts *HostPolicy

	// StartTimeout bounds the wait for the first frame. Default:
	// [DefaultStartTimeout].
	StartTimeout time.Duration

	// Breaker configures the circuit breaker created for each source.
	Breaker resilience.CircuitBreakerConfig
}

// Chain tries its sources in order until one delivers audio. Each source sits
// behind its own circuit breaker, so a source that keeps failing is skipped
// until its reset timeout passes.
//
// A source only counts as successful once its first frame has been read.
// Broken locators and unavailable tools therefore fail over at start time
// rather than mid-song.
type Chain struct {
	group        *resilience.FallbackGroup[Source]
	sources      []Source
	hosts        *HostPolicy
	startTimeout time.Duration
}

var _ playback.Resolver = (*Chain)(nil)

// NewChain returns a chain over sources, tried in the given order.
func NewChain(cfg ChainConfig, sources ...Source) (*Chain, error) {
	if len(sources) == 0 {
		return nil, errors.New("resolve: chain needs at least one source")
	}
	if cfg.Hosts == nil {
		cfg.Hosts = NewHostPolicy(nil)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}

	fcfg := resilience.FallbackConfig{CircuitBreaker: cfg.Breaker}
	group := resilience.NewFallbackGroup(sources[0], sources[0].Name(), fcfg)
	for _, s := range sources[1:] {
		group.AddFallback(s.Name(), s)
	}
	return &Chain{group: group, sources: sources, hosts: cfg.Hosts, startTimeout: cfg.StartTimeout}, nil
}

// Validate implements [playback.Resolver].
func (c *Chain) Validate(locator string) bool {
	return c.hosts.Allowed(locator)
}

// Open implements [playback.Resolver].
func (c *Chain) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	rc, err := resilience.ExecuteWithResult(ctx, c.group, func(ctx context.Context, s Source) (io.ReadCloser, error) {
		return c.openPrimed(ctx, s, locator)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("resolve: open %q: %w", locator, err)
	}
	return rc, nil
}

// ErrNoMetadata is returned by [Chain.Describe] when no source could
// describe the locator.
var ErrNoMetadata = errors.New("resolve: no metadata available")

// Describe asks each source that implements [Describer], in chain order, for
// the locator's metadata and returns the first answer. Breakers are not
// consulted; metadata is best effort.
func (c *Chain) Describe(ctx context.Context, locator string) (Metadata, error) {
	if !c.Validate(locator) {
		return Metadata{}, fmt.Errorf("resolve: describe %q: host not allowed", locator)
	}
	var errs []error
	for _, s := range c.sources {
		d, ok := s.(Describer)
		if !ok {
			continue
		}
		md, err := d.Describe(ctx, locator)
		if err == nil {
			return md, nil
		}
		if ctx.Err() != nil {
			return Metadata{}, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return Metadata{}, errors.Join(append([]error{ErrNoMetadata}, errs...)...)
}

// Sources returns the source names in the order they are tried.
func (c *Chain) Sources() []string { return c.group.Names() }

// States returns each source's breaker state.
func (c *Chain) States() map[string]resilience.State { return c.group.States() }

func (c *Chain) openPrimed(ctx context.Context, s Source, locator string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	primed, err := prime(ctx, rc, c.startTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name(), err)
	}
	slog.Debug("resolve: stream primed", "source", s.Name(), "locator", locator, "elapsed", time.Since(start))
	return primed, nil
}

// primedStream serves the buffered first frame before the rest of the stream.
type primedStream struct {
	*bufio.Reader
	io.Closer
}

// prime waits until rc has produced a full frame, ended after a partial one,
// or failed. rc is closed on failure.
func prime(ctx context.Context, rc io.ReadCloser, timeout time.Duration) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(rc, primeBufferSize)
	peeked := make(chan error, 1)
	go func() {
		_, err := br.Peek(audio.FrameBytes)
		peeked <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-peeked:
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && br.Buffered() > 0:
		case errors.Is(err, io.EOF):
			_ = rc.Close()
			return nil, ErrEmptyStream
		default:
			_ = rc.Close()
			return nil, err
		}
		return &primedStream{Reader: br, Closer: rc}, nil

	case <-timer.C:
		_ = rc.Close()
		<-peeked
		return nil, fmt.Errorf("no audio within %v: %w", timeout, context.DeadlineExceeded)

	case <-ctx.Done():
		_ = rc.Close()
		<-peeked
		return nil, ctx.Err()
	}
}
