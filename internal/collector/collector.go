package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/teleinfo/internal/observability"
	"github.com/danmuck/teleinfo/internal/protocol"
	"github.com/danmuck/teleinfo/internal/protocol/frame"
	"github.com/danmuck/teleinfo/internal/transport"
	"github.com/rs/zerolog/log"
)

// FrameWriter receives emitted frames.
type FrameWriter interface {
	Write(ctx context.Context, f *frame.Frame, at time.Time) error
}

type Config struct {
	Labels protocol.Labels
	Policy frame.ChecksumPolicy
	Resync bool
	Now    func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Labels: protocol.DefaultLabels(),
		Policy: frame.PolicyAllLines,
		Resync: true,
	}
}

// Collector decodes lines into frames and hands emitted frames to a writer.
type Collector struct {
	src    transport.LineSource
	out    FrameWriter
	labels protocol.Labels
	resync bool
	asm    *frame.Assembler

	lastLabel string
	lastValue string
}

func New(src transport.LineSource, out FrameWriter, cfg Config) *Collector {
	return &Collector{
		src:    src,
		out:    out,
		labels: cfg.Labels,
		resync: cfg.Resync,
		asm:    frame.NewAssembler(cfg.Labels, cfg.Policy, cfg.Now),
	}
}

// Run synchronizes on the first frame start then processes lines until ctx
// is done. Only transport errors are returned.
func (c *Collector) Run(ctx context.Context) error {
	skipped, err := transport.Synchronize(ctx, c.src)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("collector: synchronize: %w", err)
	}
	log.Info().Int("skipped", skipped).Msg("collector.Run synchronized on frame start")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("collector.Run shutdown")
			return nil
		}
		line, err := c.src.ReadLine()
		if err != nil {
			return fmt.Errorf("collector: read line: %w", err)
		}
		c.ProcessLine(ctx, line)
	}
}

// ProcessLine handles one raw line. It returns the finalized frame when the
// line carried the frame-end marker, nil otherwise. Nothing escapes it.
func (c *Collector) ProcessLine(ctx context.Context, raw []byte) (res *frame.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("label", c.lastLabel).
				Str("value", c.lastValue).
				Msg("collector.ProcessLine recovered")
			c.asm.Reset()
			res = nil
		}
	}()

	observability.RecordLineRead()
	log.Debug().Str("raw", string(raw)).Msg("collector.ProcessLine")

	d, err := c.labels.Decode(raw)
	line := d.Line
	if c.resync && line.HasStart && !line.HasEnd && c.asm.Pending() > 0 {
		log.Warn().Int("pending", c.asm.Pending()).Msg("collector.ProcessLine frame start inside frame, resynchronizing")
		observability.RecordFrame("resync")
		c.asm.Reset()
	}

	term := frame.TerminatorValid
	switch {
	case errors.Is(err, protocol.ErrEmptyLine):
		if !line.HasEnd || c.asm.Pending() == 0 {
			return nil
		}
	case err != nil:
		c.discard(err)
		term = frame.TerminatorDiscarded
	default:
		c.lastLabel, c.lastValue = line.Label, line.Value
		if !d.ChecksumOK {
			observability.RecordChecksumMismatch(line.Label)
			log.Info().
				Err(protocol.ErrChecksumMismatch).
				Str("label", line.Label).
				Str("checksum", line.Checksum).
				Str("computed", string(line.Expected())).
				Strs("tokens", []string{line.Label, line.Value, line.Checksum}).
				Msg("collector.ProcessLine checksum error")
		}
		c.asm.Ingest(line.Label, d.Value, d.ChecksumOK)
		if !d.ChecksumOK {
			term = frame.TerminatorChecksumFailed
		}
	}

	if !line.HasEnd {
		return nil
	}
	finalized := c.asm.Finalize(term)
	c.emit(ctx, finalized)
	return &finalized
}

func (c *Collector) discard(err error) {
	reason := "malformed"
	if errors.Is(err, protocol.ErrTypeCoercion) {
		reason = "coercion"
	}
	observability.RecordLineDiscarded(reason)
	c.asm.Discard()

	event := log.Error().Err(err).Str("last_label", c.lastLabel).Str("last_value", c.lastValue)
	var lerr *protocol.LineError
	if errors.As(err, &lerr) {
		event = event.Str("label", lerr.Label).Str("value", lerr.Value)
	}
	event.Msg("collector.ProcessLine line discarded")
}

func (c *Collector) emit(ctx context.Context, res frame.Result) {
	logger := log.With().Str("frame_id", res.ID.String()).Logger()

	switch {
	case res.Emit:
		if err := c.out.Write(ctx, res.Frame, res.At); err != nil {
			observability.RecordFrame("write_failed")
			logger.Error().
				Err(err).
				Str("label", c.lastLabel).
				Str("value", c.lastValue).
				Msg("collector.emit frame lost")
		} else {
			observability.RecordFrame("emitted")
		}
	case res.Reason == frame.SuppressMissingIdentifier:
		observability.RecordFrame(string(res.Reason))
		logger.Warn().
			Str("identifier", c.labels.Identifier()).
			Int("labels", res.Frame.Len()).
			Msg("collector.emit frame without identifier skipped")
	default:
		observability.RecordFrame(string(res.Reason))
		logger.Info().
			Str("reason", string(res.Reason)).
			Strs("checksum_failed", res.ChecksumFailed).
			Int("discarded", res.Discarded).
			Msg("collector.emit frame not written")
	}

	logger.Debug().Interface("frame", res.Diagnostic()).Msg("collector.emit finalized")
}
