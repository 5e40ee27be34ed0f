package midea

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/midea/internal/config"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
)

// Publisher pushes appliance snapshots to a message broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTPublisher publishes retained appliance state messages.
type MQTTPublisher struct {
	client mqtt.Client
}

func NewMQTTPublisher(cfg *config.MQTTConfig) (*MQTTPublisher, error) {
	if cfg == nil || strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if isTLSBroker(cfg.Broker) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.PasswordFile != "" {
		password, err := readSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password file: %w", err)
		}
		opts.SetPassword(password)
	}
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if err := connect(client, cfg.Broker, mqttConnectTimeout); err != nil {
		return nil, err
	}
	return &MQTTPublisher{client: client}, nil
}

// connect waits for the first connection. On failure the client is
// disconnected so its retry loop stops.
func connect(client mqtt.Client, broker string, timeout time.Duration) error {
	token := client.Connect()
	var err error
	if !token.WaitTimeout(timeout) {
		err = fmt.Errorf("mqtt connect to %s timed out", broker)
	} else if tokenErr := token.Error(); tokenErr != nil {
		err = fmt.Errorf("mqtt connect: %w", tokenErr)
	}
	if err != nil {
		client.Disconnect(0)
	}
	return err
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish %s timed out", topic)
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

func applianceTopic(prefix, applianceID string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + applianceID + "/state"
}

func isTLSBroker(broker string) bool {
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://"} {
		if strings.HasPrefix(broker, scheme) {
			return true
		}
	}
	return false
}

func randomClientID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("midea-%d", time.Now().UnixNano())
	}
	return "midea-" + hex.EncodeToString(buf)
}
