package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/askwhyharsh/safezone/internal/config"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

const qos = 1

func NewMQTTClient(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

// Subscriber reads fixes published by devices on <prefix>/<userID>/fix and
// failures on <prefix>/<userID>/error.
type Subscriber struct {
	client mqtt.Client
	intake *Intake
	prefix string
	logger logger.Logger
}

func NewSubscriber(client mqtt.Client, intake *Intake, topicPrefix string, log logger.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		intake: intake,
		prefix: strings.TrimSuffix(topicPrefix, "/"),
		logger: log,
	}
}

func (s *Subscriber) Start() error {
	token := s.client.SubscribeMultiple(map[string]byte{
		s.prefix + "/+/fix":   qos,
		s.prefix + "/+/error": qos,
	}, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *Subscriber) Stop() {
	s.client.Unsubscribe(s.prefix+"/+/fix", s.prefix+"/+/error").Wait()
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	userID, kind, ok := s.parseTopic(msg.Topic())
	if !ok {
		s.logger.Warn("Ignoring message on unexpected topic", "topic", msg.Topic())
		return
	}

	switch kind {
	case "fix":
		var in FixInput
		if err := json.Unmarshal(msg.Payload(), &in); err != nil {
			s.logger.Warn("Invalid fix payload", "user_id", userID, "error", err)
			return
		}
		if err := s.intake.SubmitFix(context.Background(), userID, in); err != nil {
			s.logger.Warn("Rejected fix", "user_id", userID, "error", err)
		}
	case "error":
		var in ErrorInput
		if err := json.Unmarshal(msg.Payload(), &in); err != nil {
			s.logger.Warn("Invalid error payload", "user_id", userID, "error", err)
			return
		}
		s.intake.SubmitError(userID, in)
	}
}

func (s *Subscriber) parseTopic(topic string) (userID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, s.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	if parts[1] != "fix" && parts[1] != "error" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
