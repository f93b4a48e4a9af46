// Package mqttpub implements the telemetry publisher (spec §2 C7 consumer,
// SPEC_FULL §10.3): periodically reads the shared telemetry snapshot and
// publishes it as a retained MQTT message. Grounded on the original's
// data_io/mqtt.rs publish loop and built on
// github.com/eclipse/paho.mqtt.golang, the pack's MQTT client.
package mqttpub

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"github.com/rand12345/beaglebone-v2h/telemetry"
)

// Publisher periodically publishes the telemetry snapshot to a retained
// MQTT topic.
type Publisher struct {
	client mqtt.Client
	topic  string
	tel    *telemetry.Store
	log    *zap.SugaredLogger
	period time.Duration
}

// New connects to broker and returns a Publisher for topic.
func New(broker, topic string, tel *telemetry.Store, log *zap.SugaredLogger, period time.Duration) (*Publisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("beaglebone-v2h").SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, &errcode.E{C: errcode.MqttPublish, Op: "connect", Err: tok.Error()}
	}
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Publisher{client: client, topic: topic, tel: tel, log: log, period: period}, nil
}

// Run publishes the snapshot every period until ctx is done. Grounded on
// spec §5's "telemetry publisher: N s / MQTT publish" cadence.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.client.Disconnect(250)
			return nil
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	snap := p.tel.Read()
	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Warnw("telemetry marshal failed", "err", err)
		return
	}
	tok := p.client.Publish(p.topic, 0, true, data)
	if tok.Wait() && tok.Error() != nil {
		p.log.Warnw("mqtt publish failed", "err", tok.Error())
	}
}
