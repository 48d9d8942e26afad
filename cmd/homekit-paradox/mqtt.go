package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paradox "github.com/caarlos0/homekit-paradox"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher pushes zone and partition state as retained JSON messages under
// prefix/zone/<n> and prefix/partition/<n>. Only changes are published.
type Publisher struct {
	client pahomqtt.Client
	prefix string

	mu   sync.Mutex
	last map[string]string
}

type zoneMessage struct {
	Number     int    `json:"number"`
	Name       string `json:"name"`
	Open       bool   `json:"open"`
	Tamper     bool   `json:"tamper"`
	LowBattery bool   `json:"low_battery"`
}

type partitionMessage struct {
	Number     int    `json:"number"`
	Name       string `json:"name"`
	State      string `json:"state"`
	ReadyToArm bool   `json:"ready_to_arm"`
	Trouble    bool   `json:"trouble"`
}

func NewPublisher(cfg Config) (*Publisher, error) {
	p := &Publisher{
		prefix: cfg.MQTTTopicPrefix,
		last:   map[string]string{},
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID("homekit-paradox").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			log.Info("mqtt connected", "broker", cfg.MQTTBroker)
			p.mu.Lock()
			// the broker may have lost the retained messages.
			p.last = map[string]string{}
			p.mu.Unlock()
			p.publish("bridge/state", "online")
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warn("mqtt connection lost", "err", err)
		})
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("could not connect to mqtt: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("could not connect to mqtt: %w", err)
	}
	return p, nil
}

func (p *Publisher) PublishZones(zones []paradox.Zone, names map[int]string) {
	for _, zone := range zones {
		name, ok := names[zone.Number]
		if !ok {
			continue
		}
		p.publishJSON(fmt.Sprintf("zone/%d", zone.Number), zoneMessage{
			Number:     zone.Number,
			Name:       name,
			Open:       zone.Open,
			Tamper:     zone.Tamper,
			LowBattery: zone.LowBattery,
		})
	}
}

func (p *Publisher) PublishPartitions(partitions []paradox.Partition) {
	for _, part := range partitions {
		p.publishJSON(fmt.Sprintf("partition/%d", part.Number), partitionMessage{
			Number:     part.Number,
			Name:       partitionName(part),
			State:      part.State().String(),
			ReadyToArm: part.ReadyToArm,
			Trouble:    part.Trouble,
		})
	}
}

func (p *Publisher) publishJSON(topic string, v any) {
	bts, err := json.Marshal(v)
	if err != nil {
		log.Error("could not encode mqtt message", "topic", topic, "err", err)
		return
	}
	p.publish(topic, string(bts))
}

func (p *Publisher) publish(topic, payload string) {
	p.mu.Lock()
	if p.last[topic] == payload {
		p.mu.Unlock()
		return
	}
	p.last[topic] = payload
	p.mu.Unlock()

	token := p.client.Publish(p.prefix+"/"+topic, 1, true, payload)
	go func() {
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Warn("could not publish", "topic", topic, "err", token.Error())
			p.mu.Lock()
			delete(p.last, topic)
			p.mu.Unlock()
		}
	}()
}

func (p *Publisher) Close() {
	token := p.client.Publish(p.prefix+"/bridge/state", 1, true, "offline")
	token.WaitTimeout(time.Second)
	p.client.Disconnect(1000)
}
