package frame

import "github.com/danmuck/teleinfo/internal/protocol"

// Frame is one set of meter readings keyed by label, in arrival order.
type Frame struct {
	order  []string
	values map[string]protocol.Value
}

func New() *Frame {
	return &Frame{values: make(map[string]protocol.Value, 16)}
}

// Set records value for label. A repeated label keeps its first position.
func (f *Frame) Set(label string, value protocol.Value) {
	if _, ok := f.values[label]; !ok {
		f.order = append(f.order, label)
	}
	f.values[label] = value
}

func (f *Frame) Get(label string) (protocol.Value, bool) {
	v, ok := f.values[label]
	return v, ok
}

// Delete removes label and reports whether it was present.
func (f *Frame) Delete(label string) bool {
	if _, ok := f.values[label]; !ok {
		return false
	}
	delete(f.values, label)
	for i, l := range f.order {
		if l == label {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return true
}

func (f *Frame) Len() int {
	return len(f.order)
}

func (f *Frame) Labels() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Each visits labels in arrival order.
func (f *Frame) Each(fn func(label string, value protocol.Value)) {
	for _, l := range f.order {
		fn(l, f.values[l])
	}
}

// Map returns label -> int64|string, the representation used for logs and
// JSON mirrors.
func (f *Frame) Map() map[string]any {
	out := make(map[string]any, len(f.order))
	for _, l := range f.order {
		out[l] = f.values[l].Interface()
	}
	return out
}
