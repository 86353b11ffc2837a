package sink

import (
	"time"

	"github.com/danmuck/teleinfo/internal/protocol"
	"github.com/danmuck/teleinfo/internal/protocol/frame"
)

// Tags identify the probe and the meter domain on every point.
type Tags struct {
	Host   string
	Region string
}

func (t Tags) Map() map[string]string {
	return map[string]string{
		"host":   t.Host,
		"region": t.Region,
	}
}

// Point is one label of a finalized frame.
type Point struct {
	Measurement string
	Tags        map[string]string
	Time        time.Time
	Value       any
}

// BuildPoints converts every label of f into one point sharing at.
func BuildPoints(f *frame.Frame, at time.Time, tags Tags) []Point {
	points := make([]Point, 0, f.Len())
	at = at.UTC()
	f.Each(func(label string, v protocol.Value) {
		points = append(points, Point{
			Measurement: label,
			Tags:        tags.Map(),
			Time:        at,
			Value:       v.Interface(),
		})
	})
	return points
}
