// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/optical_telemetry/internal/config"
	"github.com/relabs-tech/optical_telemetry/internal/env"
)

// RunConsoleMQTT prints mirrored telemetry until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is not set")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Info().Str("broker", cfg.MQTTBroker).Msg("console: connected to MQTT broker")

	handlers := map[string]mqtt.MessageHandler{
		cfg.TopicTelemetry: func(_ mqtt.Client, msg mqtt.Message) {
			line, err := FormatTelemetryMessage(msg.Payload())
			if err != nil {
				log.Warn().Err(err).Msg("console: telemetry unmarshal error")
				return
			}
			fmt.Fprintln(out, line)
		},
		cfg.TopicOptical: func(_ mqtt.Client, msg mqtt.Message) {
			line, err := FormatOpticalMessage(msg.Payload())
			if err != nil {
				log.Warn().Err(err).Msg("console: optical unmarshal error")
				return
			}
			fmt.Fprintln(out, line)
		},
	}

	for topic, handler := range handlers {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		log.Info().Str("topic", topic).Msg("console: subscribed")
	}

	<-ctx.Done()
	log.Info().Msg("console: shutting down")
	return nil
}

// FormatTelemetryMessage renders a mirrored sample.
func FormatTelemetryMessage(payload []byte) (string, error) {
	var s env.Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"[ENV ]  t=%.3fs HUM=%.1f%% T=%.2fC P=%.1fPa ALT=%.1fm TBMP=%.2fC LUX=%.1f",
		s.Seconds(), s.Humidity, s.Temperature, s.Pressure, s.Altitude, s.TemperatureBMP, s.Light,
	) + fmt.Sprintf("\n[POSE]  ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f",
		s.Orientation.Roll, s.Orientation.Pitch, s.Orientation.Yaw), nil
}

// FormatOpticalMessage renders a mirrored optical summary.
func FormatOpticalMessage(payload []byte) (string, error) {
	var o OpticalSummary
	if err := json.Unmarshal(payload, &o); err != nil {
		return "", err
	}
	line := fmt.Sprintf("[PD  ]  tick=%d n=%d avg_t=%.4fs avg_v=%.3fV",
		o.Seq, o.Readings, o.MeanTime, o.MeanVoltage)
	if o.ShortBurst {
		line += " (short burst)"
	}
	return line, nil
}
