// Package deviceplane realizes device-plane Policies (device_control,
// mqtt_qos) by publishing commands to IoT devices over MQTT, per
// spec.md §4.4's device plane.
package deviceplane

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ibnctl/ibnctl/internal/logging"
)

const mustQos byte = 1

// mqttClient narrows paho's Client to what the Enforcer needs, so tests
// can substitute a fake broker connection.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// ClientConfig configures the MQTT connection to the broker that fronts
// the device fleet.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// NewClient dials the broker with automatic reconnect and a last-will
// message announcing this controller as offline, mirroring the
// connect-with-will pattern used by other MQTT-fronted controllers.
// onConnect runs every time the connection is established, including
// reconnects, so callers can resubscribe and re-verify applied state.
func NewClient(cfg ClientConfig, onConnect func(mqtt.Client), logger *logging.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	willTopic := fmt.Sprintf("ibnctl/%s/status", cfg.ClientID)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetWill(willTopic, "offline", mustQos, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mc mqtt.Client) {
			logger.Info("mqtt connected", "broker", cfg.BrokerURL)
			if token := mc.Publish(willTopic, mustQos, true, "online"); token.Wait() && token.Error() != nil {
				logger.Warn("mqtt birth publish failed", "error", token.Error())
			}
			if onConnect != nil {
				onConnect(mc)
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}
