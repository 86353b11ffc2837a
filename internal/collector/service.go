package collector

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/teleinfo/internal/config"
	"github.com/danmuck/teleinfo/internal/observability"
	"github.com/danmuck/teleinfo/internal/protocol"
	"github.com/danmuck/teleinfo/internal/protocol/frame"
	"github.com/danmuck/teleinfo/internal/sink"
	"github.com/danmuck/teleinfo/internal/transport"
	"github.com/rs/zerolog/log"
)

// Service runs the collector as a standalone process: sink connect gate,
// serial port, read loop.
type Service struct {
	cfg config.Config

	openPort   func(transport.SerialConfig) (io.ReadCloser, error)
	newBackend func(sink.InfluxConfig) (sink.Backend, error)
	newMirror  func(sink.MQTTConfig) (sink.Mirror, error)

	sink *sink.Sink
}

func NewService(cfg config.Config) *Service {
	return &Service{
		cfg: cfg,
		openPort: func(c transport.SerialConfig) (io.ReadCloser, error) {
			return transport.OpenSerial(c)
		},
		newBackend: func(c sink.InfluxConfig) (sink.Backend, error) {
			return sink.NewInfluxBackend(c)
		},
		newMirror: func(c sink.MQTTConfig) (sink.Mirror, error) {
			return sink.NewMQTTPublisher(c)
		},
	}
}

// Health reports the sink state for the status server.
func (s *Service) Health() (string, bool) {
	if s.sink == nil {
		return sink.StateDisconnected.String(), false
	}
	st := s.sink.State()
	return st.String(), st == sink.StateReady
}

// Run blocks until ctx is done or the transport fails. The serial port is
// only opened once the sink is reachable.
func (s *Service) Run(ctx context.Context) error {
	policy, err := frame.ParsePolicy(s.cfg.Frame.ChecksumPolicy)
	if err != nil {
		return err
	}

	backend, err := s.newBackend(sink.InfluxConfig{
		URL:     s.cfg.Influx.URL,
		Token:   s.cfg.Influx.Token,
		Org:     s.cfg.Influx.Org,
		Timeout: s.cfg.Influx.WriteTimeout,
	})
	if err != nil {
		return err
	}
	snk, err := sink.New(backend, sink.Config{
		Database:           s.cfg.Influx.Bucket,
		RetryInterval:      s.cfg.Influx.RetryInterval,
		WriteTimeout:       s.cfg.Influx.WriteTimeout,
		ReconnectOnFailure: s.cfg.Influx.ReconnectOnFailure,
		Tags:               sink.Tags{Host: s.cfg.Tags.Host, Region: s.cfg.Tags.Region},
	}, s.mirrors()...)
	if err != nil {
		return err
	}
	s.sink = snk
	defer func() {
		if err := snk.Close(); err != nil {
			log.Warn().Err(err).Msg("collector.Service.Run sink close")
		}
	}()

	if addr := strings.TrimSpace(s.cfg.Status.Addr); addr != "" {
		status := observability.NewStatusServer(addr, s.Health)
		go func() {
			if err := status.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("collector.Service.Run status server stopped")
			}
		}()
	}

	log.Info().Msg("collector.Service.Run teleinfo starting")
	if err := snk.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	serialCfg := transport.SerialConfig{
		Port:        s.cfg.Serial.Port,
		BaudRate:    s.cfg.Serial.BaudRate,
		DataBits:    s.cfg.Serial.DataBits,
		ReadTimeout: s.cfg.Serial.ReadTimeout,
	}
	port, err := s.openPort(serialCfg)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Info().Str("port", serialCfg.Port).Int("baud", serialCfg.BaudRate).Msg("collector.Service.Run reading")

	c := New(transport.NewLineReader(port), snk, Config{
		Labels: protocol.NewLabels(s.cfg.Labels.Integer, s.cfg.Labels.ChecksumExempt, s.cfg.Labels.Identifier),
		Policy: policy,
		Resync: s.cfg.Frame.Resync,
	})
	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("collector: %s: %w", serialCfg.Port, err)
	}
	return nil
}

func (s *Service) mirrors() []sink.Mirror {
	if strings.TrimSpace(s.cfg.MQTT.Broker) == "" {
		return nil
	}
	m, err := s.newMirror(sink.MQTTConfig{
		Broker:   s.cfg.MQTT.Broker,
		ClientID: s.cfg.MQTT.ClientID,
		Topic:    s.cfg.MQTT.Topic,
		QoS:      byte(s.cfg.MQTT.QoS),
	})
	if err != nil {
		log.Warn().Err(err).Str("broker", s.cfg.MQTT.Broker).Msg("collector.Service mqtt mirror disabled")
		return nil
	}
	return []sink.Mirror{m}
}
