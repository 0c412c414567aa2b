// Package mqttclient connects to the cloud IoT broker. The broker
// authenticates devices with a JWT signed by the device key and passed as
// the MQTT password.
package mqttclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/log"
)

// Username is ignored by the broker but must not be empty.
const Username = "unused"

type Config struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"`
	PrivateKey string `yaml:"private_key"`
	Algorithm  string `yaml:"algorithm"`
	ProjectID  string `yaml:"project_id"`
	Region     string `yaml:"region"`
	RegistryID string `yaml:"registry_id"`
	// TokenLifetime is the validity of the JWT password.
	TokenLifetime  time.Duration `yaml:"token_lifetime"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Broker:         "ssl://mqtt.googleapis.com:8883",
		PrivateKey:     "/enclave/rsa_private.pem",
		Algorithm:      "RS256",
		ProjectID:      "auto-fleet-mgnt",
		Region:         "europe-west1",
		RegistryID:     "fleet-registry",
		TokenLifetime:  24 * time.Hour,
		ConnectTimeout: 5 * time.Second,
	}
}

func (c Config) ClientID(deviceID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
		c.ProjectID, c.Region, c.RegistryID, deviceID)
}

// Password signs a broker token with the PEM encoded key.
func (c Config) Password(keyData []byte, now time.Time) (string, error) {
	var key interface{}
	var err error
	switch c.Algorithm {
	case "RS256":
		key, err = jwt.ParseRSAPrivateKeyFromPEM(keyData)
	case "ES256":
		key, err = jwt.ParseECPrivateKeyFromPEM(keyData)
	default:
		return "", errors.Errorf("unknown algorithm: %s", c.Algorithm)
	}
	if err != nil {
		return "", errors.WithMessage(err, "Could not parse private key")
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(c.Algorithm), &jwt.StandardClaims{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.TokenLifetime).Unix(),
		Audience:  c.ProjectID,
	})
	pass, err := token.SignedString(key)
	if err != nil {
		return "", errors.WithMessage(err, "Could not sign token")
	}
	return pass, nil
}

func (c Config) options(deviceID, password string) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID(deviceID)).
		SetUsername(Username).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetPassword(password).
		SetProtocolVersion(4) // MQTT 3.1.1
}

// New connects to the broker, retrying on timeouts until ctx is done.
func New(ctx context.Context, cfg Config, deviceID string, logger *log.Logger) (mqtt.Client, error) {
	keyData, err := os.ReadFile(cfg.PrivateKey)
	if err != nil {
		return nil, errors.WithMessage(err, "Could not read private key")
	}
	pass, err := cfg.Password(keyData, time.Now())
	if err != nil {
		return nil, err
	}

	logger.Info("MQTT client", "broker", cfg.Broker, "client_id", cfg.ClientID(deviceID))
	client := mqtt.NewClient(cfg.options(deviceID, pass))

	for {
		logger.Infof("Connecting MQTT...")
		tok := client.Connect()
		if !tok.WaitTimeout(cfg.ConnectTimeout) {
			logger.Warnf("MQTT connection timeout")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				continue
			}
		}
		if err := tok.Error(); err != nil {
			return nil, errors.WithMessage(err, "Could not connect MQTT")
		}
		return client, nil
	}
}
