// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/optical_telemetry/internal/config"
	"github.com/relabs-tech/optical_telemetry/internal/logging"
	"github.com/relabs-tech/optical_telemetry/internal/poller"
)

const (
	mirrorQueue          = 32
	mirrorPublishTimeout = 2 * time.Second
)

// Publisher is the part of mqtt.Client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// OpticalSummary is the per-tick optical payload. The raw burst stays local;
// it is too large to mirror every second.
type OpticalSummary struct {
	Seq         uint64    `json:"seq"`
	At          time.Time `json:"at"`
	Readings    int       `json:"readings"`
	ShortBurst  bool      `json:"short_burst"`
	OpticalTime float64   `json:"optical_time_s"`
	MeanTime    float64   `json:"mean_time_s"`
	MeanVoltage float64   `json:"mean_voltage_v"`
}

// Mirror republishes parsed ticks to MQTT as retained JSON.
type Mirror struct {
	pub            Publisher
	topicTelemetry string
	topicOptical   string
	queue          chan poller.Tick
	log            zerolog.Logger
}

// NewMirror creates a mirror publishing through pub.
func NewMirror(pub Publisher, topicTelemetry, topicOptical string) *Mirror {
	return &Mirror{
		pub:            pub,
		topicTelemetry: topicTelemetry,
		topicOptical:   topicOptical,
		queue:          make(chan poller.Tick, mirrorQueue),
		log:            logging.Component("mirror"),
	}
}

// ConnectMirror connects to the configured broker.
func ConnectMirror(cfg *config.Config) (*Mirror, mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDMonitor).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return NewMirror(client, cfg.TopicTelemetry, cfg.TopicOptical), client, nil
}

// PublishTick is a poller listener. It never blocks; ticks are dropped when
// the broker cannot keep up.
func (m *Mirror) PublishTick(t poller.Tick) {
	if t.Skipped {
		return
	}
	select {
	case m.queue <- t:
	default:
		m.log.Warn().Uint64("tick", t.Seq).Msg("mirror queue full, tick dropped")
	}
}

// Run publishes queued ticks until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-m.queue:
			m.publish(t)
		}
	}
}

func (m *Mirror) publish(t poller.Tick) {
	if t.Sample != nil {
		if payload, err := json.Marshal(t.Sample); err != nil {
			m.log.Warn().Err(err).Msg("telemetry marshal error")
		} else {
			m.send(m.topicTelemetry, payload)
		}
	}

	payload, err := json.Marshal(OpticalSummary{
		Seq:         t.Seq,
		At:          t.At,
		Readings:    t.Readings,
		ShortBurst:  t.ShortBurst,
		OpticalTime: t.OpticalTime,
		MeanTime:    t.MeanTime,
		MeanVoltage: t.MeanVoltage,
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("optical marshal error")
		return
	}
	m.send(m.topicOptical, payload)
}

func (m *Mirror) send(topic string, payload []byte) {
	token := m.pub.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(mirrorPublishTimeout) {
		m.log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		m.log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish error")
	}
}
