package protocol

import (
	"strconv"
	"strings"
)

// Kind is the semantic type of a label's value.
type Kind int

const (
	KindText Kind = iota
	KindInteger
)

func (k Kind) String() string {
	if k == KindInteger {
		return "integer"
	}
	return "text"
}

// Value is a coerced line value.
type Value struct {
	Kind Kind
	Int  int64
	Text string
}

func IntValue(n int64) Value {
	return Value{Kind: KindInteger, Int: n}
}

func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Interface returns the value as int64 or string, the shape sinks expect for
// a field value.
func (v Value) Interface() any {
	if v.Kind == KindInteger {
		return v.Int
	}
	return v.Text
}

func (v Value) String() string {
	if v.Kind == KindInteger {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Text
}

// Default label tables of a historic-mode meter.
var (
	DefaultIntegerLabels        = []string{"BASE", "IMAX", "HCHC", "IINST", "PAPP", "ISOUSC", "ADCO", "HCHP"}
	DefaultChecksumExemptLabels = []string{"MOTDETAT"}
)

// DefaultIdentifierLabel is the meter address. It is confidential and never
// leaves the process.
const DefaultIdentifierLabel = "ADCO"

// Labels is the static label classification table.
type Labels struct {
	integer    map[string]struct{}
	exempt     map[string]struct{}
	identifier string
}

func DefaultLabels() Labels {
	return NewLabels(DefaultIntegerLabels, DefaultChecksumExemptLabels, DefaultIdentifierLabel)
}

func NewLabels(integer, checksumExempt []string, identifier string) Labels {
	return Labels{
		integer:    toSet(integer),
		exempt:     toSet(checksumExempt),
		identifier: strings.TrimSpace(identifier),
	}
}

func (l Labels) Identifier() string {
	return l.identifier
}

func (l Labels) KindOf(label string) Kind {
	if _, ok := l.integer[label]; ok {
		return KindInteger
	}
	return KindText
}

func (l Labels) IsChecksumExempt(label string) bool {
	_, ok := l.exempt[label]
	return ok
}

// Coerce converts raw according to the label's kind.
func (l Labels) Coerce(label, raw string) (Value, error) {
	if l.KindOf(label) != KindInteger {
		return TextValue(raw), nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Value{}, &LineError{Err: ErrTypeCoercion, Label: label, Value: raw}
	}
	return IntValue(n), nil
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out[v] = struct{}{}
	}
	return out
}
