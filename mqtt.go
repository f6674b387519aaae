package main

import (
	"encoding/json"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

var mlog = logrus.WithField("module", "mqtt")

// mqttReport is the payload published by vehicles over MQTT. The vehicle id
// comes from the topic, everything else mirrors the HTTP report body.
type mqttReport struct {
	Lat               *float64 `json:"lat"`
	Lon               *float64 `json:"lon"`
	Direction         string   `json:"direction"`
	SpeedMS           *float64 `json:"speed_m_s"`
	Timestamp         any      `json:"timestamp"`
	PatientConditions []string `json:"patient_conditions"`
	PatientScore      any      `json:"patient_score"`
	RangeM            *float64 `json:"range"`
}

// setupMQTT connects to the broker and feeds every message on the fleet
// topic into the engine as a location report. Returns the client so the
// caller can disconnect on shutdown.
func setupMQTT(cfg MQTTConfig, engine *Engine) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	handler := func(client mqtt.Client, msg mqtt.Message) {
		// Topic shape: <prefix>/<vehicle-id>/location
		parts := strings.Split(msg.Topic(), "/")
		if len(parts) < 2 {
			mlog.Warnf("could not extract vehicle id from topic %q", msg.Topic())
			return
		}
		vehicleID := parts[1]

		var payload mqttReport
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			mlog.Errorf("unmarshal report for %s: %v", vehicleID, err)
			return
		}
		if payload.Lat == nil || payload.Lon == nil {
			mlog.Warnf("report for %s missing lat/lon", vehicleID)
			return
		}
		rep := &LocationReport{
			ID:                vehicleID,
			Lat:               *payload.Lat,
			Lon:               *payload.Lon,
			Direction:         payload.Direction,
			SpeedMS:           payload.SpeedMS,
			PatientConditions: payload.PatientConditions,
			PatientScore:      payload.PatientScore,
			RangeM:            payload.RangeM,
		}
		if ts, ok := coerceFloat(payload.Timestamp); ok {
			rep.Timestamp = ts
		}
		assigned := engine.HandleReport(rep)
		mlog.Debugf("report from %s assigned to %v", vehicleID, assigned)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if token := client.Subscribe(cfg.Topic, 0, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, token.Error()
	}
	mlog.Infof("subscribed to %s on %s", cfg.Topic, cfg.Broker)
	return client, nil
}
