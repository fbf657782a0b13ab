// Package bridge republishes delivered mesh messages to an MQTT broker, so
// off-grid traffic can reach regular network services.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/xid"

	"github.com/antirez/freakwan/pkg/wire"
)

const connectTimeout = 10 * time.Second

// BridgedMessage is the JSON document published per delivered message.
type BridgedMessage struct {
	MsgID   string  `json:"msg_id"`
	Sender  string  `json:"sender"`
	Nick    string  `json:"nick"`
	Body    string  `json:"body"`
	RSSI    float32 `json:"rssi"`
	Relayed bool    `json:"relayed"`
	KeyName string  `json:"key_name,omitempty"`
}

type MQTTBridge struct {
	client    mqtt.Client
	topicRoot string
}

// NewMQTTBridge connects to the broker, e.g. "tcp://localhost:1883".
func NewMQTTBridge(broker, topicRoot string) (*MQTTBridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("freakwan-" + xid.New().String()).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	return &MQTTBridge{client: client, topicRoot: topicRoot}, nil
}

// PublishMessage forwards a delivered Data message. Fire-and-forget: a
// publish failure is logged, never surfaced to the protocol core.
func (b *MQTTBridge) PublishMessage(m *wire.Message, rssi float32) {
	doc := BridgedMessage{
		MsgID:   fmt.Sprintf("%08x", m.ID),
		Sender:  m.Sender.String(),
		Nick:    m.Nick,
		Body:    string(m.Payload),
		RSSI:    rssi,
		Relayed: m.Flags&wire.FlagRelayed != 0,
		KeyName: m.KeyName,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		slog.Error("marshaling bridged message", "error", err)
		return
	}
	topic := b.topicRoot + "/messages"
	token := b.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			slog.Warn("MQTT publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}
