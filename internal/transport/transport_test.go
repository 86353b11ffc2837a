package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/teleinfo/internal/testutil/testlog"
)

// chunkReader returns one scripted chunk per Read. An empty chunk mimics a
// serial read timeout.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := c.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.chunks[0] = chunk[n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func TestReadLineSplitsOnLineBreak(t *testing.T) {
	testlog.Start(t)
	lr := NewLineReader(&chunkReader{chunks: []string{"PAPP 012", "89 5\r\nIINST 005 \\\r\x03\x02\nAD"}})

	line, err := lr.ReadLine()
	if err != nil || string(line) != "PAPP 01289 5\r\n" {
		t.Fatalf("line1 got=%q err=%v", line, err)
	}
	line, err = lr.ReadLine()
	if err != nil || string(line) != "IINST 005 \\\r\x03\x02\n" {
		t.Fatalf("line2 got=%q err=%v", line, err)
	}
	line, err = lr.ReadLine()
	if err != nil || string(line) != "AD" {
		t.Fatalf("trailing partial got=%q err=%v", line, err)
	}
	if _, err := lr.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadLineTimeoutReturnsPartial(t *testing.T) {
	testlog.Start(t)
	lr := NewLineReader(&chunkReader{chunks: []string{"", "PAPP", "", " 01289 5\n"}})

	line, err := lr.ReadLine()
	if err != nil || len(line) != 0 {
		t.Fatalf("timeout read got=%q err=%v", line, err)
	}
	line, err = lr.ReadLine()
	if err != nil || string(line) != "PAPP" {
		t.Fatalf("partial read got=%q err=%v", line, err)
	}
	line, err = lr.ReadLine()
	if err != nil || string(line) != " 01289 5\n" {
		t.Fatalf("rest got=%q err=%v", line, err)
	}
}

func TestReadLineBoundsRunawayInput(t *testing.T) {
	testlog.Start(t)
	lr := NewLineReader(&chunkReader{chunks: []string{strings.Repeat("x", MaxLineLen+10)}})
	line, err := lr.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(line) < MaxLineLen {
		t.Fatalf("expected a bounded chunk of at least %d bytes, got %d", MaxLineLen, len(line))
	}
}

func TestSynchronizeSkipsToFrameStart(t *testing.T) {
	testlog.Start(t)
	lr := NewLineReader(&chunkReader{chunks: []string{"P 01289 5\r\n", "IINST 005 \\\r\x03\x02\n", "ADCO 000000000000 W\r\n"}})
	skipped, err := Synchronize(context.Background(), lr)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if skipped != 2 {
		t.Fatalf("unexpected skipped=%d", skipped)
	}
	line, err := lr.ReadLine()
	if err != nil || string(line) != "ADCO 000000000000 W\r\n" {
		t.Fatalf("first frame line got=%q err=%v", line, err)
	}
}

func TestSynchronizeTransportError(t *testing.T) {
	testlog.Start(t)
	lr := NewLineReader(&chunkReader{chunks: []string{"PAPP 01289 5\r\n"}})
	if _, err := Synchronize(context.Background(), lr); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestSynchronizeCancelled(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lr := NewLineReader(&chunkReader{chunks: []string{"\x02\n"}})
	if _, err := Synchronize(ctx, lr); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpenSerialRequiresPort(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultSerialConfig()
	cfg.Port = " "
	if _, err := OpenSerial(cfg); !errors.Is(err, ErrPortRequired) {
		t.Fatalf("expected ErrPortRequired, got %v", err)
	}
}
