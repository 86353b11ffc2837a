package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

var ErrOrgRequired = errors.New("sink: influx org required")

const bucketPageSize = 100

// InfluxConfig addresses an InfluxDB 2.x server. Databases map to buckets
// of Org.
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Timeout time.Duration
}

// InfluxBackend implements Backend over the InfluxDB HTTP API.
type InfluxBackend struct {
	client   influxdb2.Client
	org      string
	pageSize int
	writer   api.WriteAPIBlocking
}

func NewInfluxBackend(cfg InfluxConfig) (*InfluxBackend, error) {
	if strings.TrimSpace(cfg.Org) == "" {
		return nil, ErrOrgRequired
	}
	// Frame times are truncated to the second.
	opts := influxdb2.DefaultOptions().SetPrecision(time.Second)
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(timeoutSeconds(cfg.Timeout))
	}
	return &InfluxBackend{
		client:   influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts),
		org:      cfg.Org,
		pageSize: bucketPageSize,
	}, nil
}

// timeoutSeconds rounds up so a sub-second timeout never becomes 0, which
// the client reads as no timeout.
func timeoutSeconds(d time.Duration) uint {
	return uint((d + time.Second - 1) / time.Second)
}

func (b *InfluxBackend) DatabaseExists(ctx context.Context, name string) (bool, error) {
	for offset := 0; ; offset += b.pageSize {
		page, err := b.client.BucketsAPI().FindBucketsByOrgName(ctx, b.org,
			api.PagingWithLimit(b.pageSize), api.PagingWithOffset(offset))
		if err != nil {
			return false, err
		}
		if page == nil {
			return false, nil
		}
		for _, bucket := range *page {
			if bucket.Name == name {
				return true, nil
			}
		}
		if len(*page) < b.pageSize {
			return false, nil
		}
	}
}

func (b *InfluxBackend) CreateDatabase(ctx context.Context, name string) error {
	org, err := b.client.OrganizationsAPI().FindOrganizationByName(ctx, b.org)
	if err != nil {
		return fmt.Errorf("find org %q: %w", b.org, err)
	}
	_, err = b.client.BucketsAPI().CreateBucketWithName(ctx, org, name)
	return err
}

func (b *InfluxBackend) SelectDatabase(_ context.Context, name string) error {
	b.writer = b.client.WriteAPIBlocking(b.org, name)
	return nil
}

func (b *InfluxBackend) WriteBatch(ctx context.Context, points []Point) error {
	if b.writer == nil {
		return ErrNotConnected
	}
	return b.writer.WritePoint(ctx, toInfluxPoints(points)...)
}

func (b *InfluxBackend) Close() error {
	b.client.Close()
	return nil
}

func toInfluxPoints(points []Point) []*write.Point {
	out := make([]*write.Point, 0, len(points))
	for _, p := range points {
		out = append(out, influxdb2.NewPoint(
			p.Measurement,
			p.Tags,
			map[string]interface{}{"value": p.Value},
			p.Time,
		))
	}
	return out
}
