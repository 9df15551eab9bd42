package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"firewatch/internal/config"
)

const publishTimeout = 5 * time.Second

var errPublishTimeout = errors.New("publish timed out")

// MQTTPublisher publishes over a paho client
type MQTTPublisher struct {
	client mqtt.Client
	logger *slog.Logger
}

// Dial connects to the broker of cfg
func Dial(cfg config.RelayConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTPublisher{client: client, logger: logger}, nil
}

// Publish sends one message and waits for the broker to accept it
func (p *MQTTPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

// Close disconnects, giving in-flight messages 250ms
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
	p.logger.Info("mqtt disconnected")
}
