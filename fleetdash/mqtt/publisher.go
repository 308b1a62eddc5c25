package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
	"github.com/asnowfix/esp32-fleet/internal/mynet"
)

const BROKER_SERVICE = "_mqtt._tcp."
const PRIVATE_PORT = 1883

// Zeroconf as broker address browses the local network for a broker.
const Zeroconf = "zeroconf"

type Config struct {
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

const DefaultTopicPrefix = "fleetdash"

// messages waiting for the broker beyond this are dropped
const OUTBOX_SIZE = 256

// StatusMessage is the retained payload of <prefix>/<device_id>/status.
type StatusMessage struct {
	DeviceId    int             `json:"device_id"`
	Status      fleet.Status    `json:"status"`
	From        fleet.Status    `json:"from,omitempty"`
	At          time.Time       `json:"at"`
	LastUpdated fleet.Timestamp `json:"last_updated"`
}

// SummaryMessage is the retained payload of <prefix>/summary.
type SummaryMessage struct {
	Generation uint64    `json:"generation"`
	At         time.Time `json:"at"`
	fleet.Summary
}

// Publisher mirrors fleet status changes to an MQTT broker as retained messages
type Publisher struct {
	Id        string
	log       logr.Logger
	mqtt      mqtt.Client
	brokerUrl *url.URL
	prefix    string
	power     fleet.PowerModel
	timeout   time.Duration
	publish   func(topic string, payload []byte) error
	outbox    chan outgoing
}

type outgoing struct {
	topic   string
	payload []byte
}

func NewPublisher(ctx context.Context, log logr.Logger, cfg Config, resolver *mynet.Resolver, power fleet.PowerModel) (*Publisher, error) {
	log = log.WithName("mqtt")
	clientId := fmt.Sprintf("fleetdash-%s", uuid.NewString()[:8])
	log.Info("Initializing MQTT client", "client_id", clientId)

	brokerUrl, err := lookupBroker(ctx, log, resolver, cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("could not find MQTT broker %q: %w", cfg.Broker, err)
	}
	log.Info("Using MQTT broker", "url", brokerUrl)

	opts := mqtt.NewClientOptions()
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientId)
	opts.AddBroker(brokerUrl.String())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT client connected", "client_id", clientId)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error(err, "MQTT connection lost", "client_id", clientId)
	})

	p := &Publisher{
		Id:        clientId,
		log:       log,
		mqtt:      mqtt.NewClient(opts),
		brokerUrl: brokerUrl,
		prefix:    strings.TrimSuffix(cfg.TopicPrefix, "/"),
		power:     power,
		timeout:   5 * time.Second,
		outbox:    make(chan outgoing, OUTBOX_SIZE),
	}
	if p.prefix == "" {
		p.prefix = DefaultTopicPrefix
	}
	p.publish = p.publishRetained
	go p.drain(ctx)
	return p, nil
}

// drain publishes queued messages in order until ctx is done
func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Stopping MQTT publishing", "pending", len(p.outbox))
			return
		case m := <-p.outbox:
			if err := p.publish(m.topic, m.payload); err != nil {
				p.log.Error(err, "Failed to publish", "topic", m.topic)
			}
		}
	}
}

// Connect starts connecting; with connect-retry set, paho keeps trying in the background.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.mqtt.Connect()
	for !token.WaitTimeout(3 * time.Second) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.log.Info("MQTT client trying to connect as", "client_id", p.Id)
	}
	if err := token.Error(); err != nil {
		p.log.Error(err, "MQTT client failed to connect", "client_id", p.Id)
		return err
	}
	return nil
}

func (p *Publisher) BrokerUrl() *url.URL {
	return p.brokerUrl
}

func (p *Publisher) IsConnected() bool {
	return p.mqtt != nil && p.mqtt.IsConnected()
}

func (p *Publisher) Close() {
	if p.mqtt != nil && p.mqtt.IsConnected() {
		p.mqtt.Disconnect(250 /* milliseconds */)
	}
}

func (p *Publisher) StatusTopic(deviceId int) string {
	return fmt.Sprintf("%s/%d/status", p.prefix, deviceId)
}

func (p *Publisher) SummaryTopic() string {
	return p.prefix + "/summary"
}

// SnapshotApplied queues one status message per transition, then the fleet summary. A
// snapshot from a failed fetch publishes nothing, so retained topics keep the last known state.
func (p *Publisher) SnapshotApplied(ctx context.Context, prev, next *monitor.Snapshot, changes []fleet.Transition) {
	if next.Err != nil {
		p.log.V(1).Info("Not publishing failed fetch", "generation", next.Generation, "error", next.Err.Error())
		return
	}

	lastUpdated := make(map[int]fleet.Timestamp, len(changes))
	for _, d := range next.Devices {
		lastUpdated[d.DeviceId] = d.LastUpdated
	}

	for _, c := range changes {
		msg := StatusMessage{
			DeviceId:    c.DeviceId,
			Status:      c.To,
			From:        c.From,
			At:          c.At,
			LastUpdated: lastUpdated[c.DeviceId],
		}
		p.enqueueJSON(p.StatusTopic(c.DeviceId), msg)
	}

	summary := SummaryMessage{
		Generation: next.Generation,
		At:         next.FetchedAt,
		Summary:    fleet.Summarize(next.Rows(next.FetchedAt), next.FetchedAt, p.power),
	}
	p.enqueueJSON(p.SummaryTopic(), summary)
}

func (p *Publisher) enqueueJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error(err, "Failed to encode message", "topic", topic)
		return
	}
	select {
	case p.outbox <- outgoing{topic: topic, payload: payload}:
	default:
		p.log.Error(fmt.Errorf("outbox full (%d messages)", OUTBOX_SIZE), "Dropping message", "topic", topic)
	}
}

func (p *Publisher) publishRetained(topic string, payload []byte) error {
	p.log.V(1).Info("Publishing", "topic", topic, "payload", string(payload))
	token := p.mqtt.Publish(topic, 1 /*qos:at-least-once*/, true /*retain*/, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publishing to %s: timed out after %v", topic, p.timeout)
	}
	return token.Error()
}

func lookupBroker(ctx context.Context, log logr.Logger, resolver *mynet.Resolver, where string) (*url.URL, error) {
	where = strings.TrimSpace(where)
	log.Info("Looking up MQTT broker", "where", where)

	switch {
	case where == "":
		return nil, fmt.Errorf("no broker address")
	case where == Zeroconf:
		if resolver == nil {
			return nil, fmt.Errorf("no resolver to browse for %s", BROKER_SERVICE)
		}
		return resolver.LookupService(ctx, BROKER_SERVICE)
	case strings.Contains(where, "://"):
		return url.Parse(where)
	}

	host, port := where, PRIVATE_PORT
	if h, p, err := net.SplitHostPort(where); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("broker port %q: %w", p, err)
		}
		host, port = h, n
	}
	return &url.URL{
		Scheme: "tcp",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}, nil
}
