package frame

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/teleinfo/internal/protocol"
	"github.com/segmentio/ksuid"
)

var ErrUnknownPolicy = errors.New("frame: unknown checksum policy")

// ChecksumPolicy decides which checksum results gate emission of a frame.
type ChecksumPolicy string

const (
	// PolicyAllLines emits only when every line of the frame passed.
	PolicyAllLines ChecksumPolicy = "all-lines"
	// PolicyTerminator consults only the line carrying the frame-end marker.
	PolicyTerminator ChecksumPolicy = "terminator"
)

func ParsePolicy(raw string) (ChecksumPolicy, error) {
	switch ChecksumPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyAllLines:
		return PolicyAllLines, nil
	case PolicyTerminator:
		return PolicyTerminator, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, raw)
	}
}

// SuppressReason says why a finalized frame was not emitted.
type SuppressReason string

const (
	SuppressNone              SuppressReason = ""
	SuppressChecksum          SuppressReason = "checksum"
	SuppressDiscardedLine     SuppressReason = "discarded_line"
	SuppressMissingIdentifier SuppressReason = "missing_identifier"
	SuppressEmpty             SuppressReason = "empty"
)

// Terminator is the outcome of the line carrying the frame-end marker.
type Terminator int

const (
	TerminatorValid Terminator = iota
	TerminatorChecksumFailed
	TerminatorDiscarded
)

// Result is a finalized frame.
type Result struct {
	ID             ksuid.KSUID
	Frame          *Frame
	At             time.Time
	Emit           bool
	Reason         SuppressReason
	ChecksumFailed []string
	Discarded      int
}

// Diagnostic is the frame as logged after finalization: the values plus the
// acquisition time in epoch seconds. It is never sent to a sink.
func (r Result) Diagnostic() map[string]any {
	out := r.Frame.Map()
	out["timestamp"] = r.At.Unix()
	return out
}

// Assembler accumulates decoded lines into the current frame.
type Assembler struct {
	labels protocol.Labels
	policy ChecksumPolicy
	now    func() time.Time

	frame          *Frame
	checksumFailed []string
	discarded      int
}

func NewAssembler(labels protocol.Labels, policy ChecksumPolicy, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	if policy == "" {
		policy = PolicyAllLines
	}
	return &Assembler{
		labels: labels,
		policy: policy,
		now:    now,
		frame:  New(),
	}
}

// Ingest stores label unconditionally. A failed checksum is remembered for
// the emission decision.
func (a *Assembler) Ingest(label string, value protocol.Value, checksumOK bool) {
	a.frame.Set(label, value)
	if !checksumOK {
		a.checksumFailed = append(a.checksumFailed, label)
	}
}

// Discard notes that a line of the current frame was dropped before Ingest.
func (a *Assembler) Discard() {
	a.discarded++
}

// Pending is the number of lines ingested or discarded since the last reset.
func (a *Assembler) Pending() int {
	return a.frame.Len() + a.discarded
}

func (a *Assembler) Current() *Frame {
	return a.frame
}

func (a *Assembler) Reset() {
	a.frame = New()
	a.checksumFailed = nil
	a.discarded = 0
}

// Finalize closes the current frame: the identifier is removed, the
// acquisition time captured and the emission decided. The assembler is
// reset whatever the outcome.
func (a *Assembler) Finalize(term Terminator) Result {
	res := Result{
		ID:             ksuid.New(),
		Frame:          a.frame,
		ChecksumFailed: a.checksumFailed,
		Discarded:      a.discarded,
	}
	defer a.Reset()

	hadIdentifier := true
	if id := a.labels.Identifier(); id != "" {
		hadIdentifier = res.Frame.Delete(id)
	}
	res.At = a.now().UTC().Truncate(time.Second)

	switch {
	case !hadIdentifier:
		res.Reason = SuppressMissingIdentifier
	case term == TerminatorDiscarded:
		res.Reason = SuppressDiscardedLine
	case res.Frame.Len() == 0 && res.Discarded > 0:
		res.Reason = SuppressDiscardedLine
	case res.Frame.Len() == 0:
		res.Reason = SuppressEmpty
	case term == TerminatorChecksumFailed:
		res.Reason = SuppressChecksum
	case a.policy == PolicyAllLines && len(res.ChecksumFailed) > 0:
		res.Reason = SuppressChecksum
	case a.policy == PolicyAllLines && res.Discarded > 0:
		res.Reason = SuppressDiscardedLine
	default:
		res.Emit = true
	}
	return res
}
