package transport

import (
	"bytes"
	"context"

	"github.com/danmuck/teleinfo/internal/protocol"
	"github.com/rs/zerolog/log"
)

// LineSource yields raw lines, markers included.
type LineSource interface {
	ReadLine() ([]byte, error)
}

// Synchronize discards lines up to and including the first one carrying the
// frame-start marker. It returns the number of lines skipped.
func Synchronize(ctx context.Context, src LineSource) (int, error) {
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		line, err := src.ReadLine()
		if err != nil {
			return skipped, err
		}
		skipped++
		if bytes.IndexByte(line, protocol.FrameStart) >= 0 {
			log.Debug().Int("skipped", skipped).Msg("transport.Synchronize frame start found")
			return skipped, nil
		}
	}
}
