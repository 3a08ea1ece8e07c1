// Package publish forwards live readings to an MQTT broker.
package publish

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"mag-logger/models"
	"mag-logger/utils"
)

const (
	defaultQueueSize = 256
	publishTimeout   = 2 * time.Second
)

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Message is the JSON payload of one forwarded reading.
type Message struct {
	Session string    `json:"session"`
	Time    time.Time `json:"time"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Z       float64   `json:"z"`
}

type envelope struct {
	topic string
	msg   Message
}

// Stats are the forwarder counters.
type Stats struct {
	Queued    uint64
	Published uint64
	Dropped   uint64 // queue full
	Failed    uint64
}

// MQTTPublisher sends readings to <prefix>/<session-id> at QoS 0 from a
// single worker goroutine. Publish never blocks the acquisition loop: when
// the queue is full the reading is dropped.
type MQTTPublisher struct {
	client client
	prefix string
	queue  chan envelope
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	log    *logrus.Entry

	queued    uint64
	published uint64
	dropped   uint64
	failed    uint64
}

// NewMQTTPublisher connects to the configured broker and starts the worker.
func NewMQTTPublisher(cfg utils.MQTTConfig) (*MQTTPublisher, error) {
	log := utils.L().WithField("component", "mqtt")

	opts := mqtt.NewClientOptions()
	protocol := "tcp"
	if cfg.UseTLS {
		protocol = "tls"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", protocol, cfg.Broker, cfg.Port)
	opts.AddBroker(brokerURL)
	clientID := fmt.Sprintf("maglogger-%d", time.Now().Unix())
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.WithField("broker", brokerURL).Info("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost, reconnecting")
	}

	c := mqtt.NewClient(opts)
	log.Infof("connecting to %s as %s", brokerURL, clientID)
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, err)
	}

	return newPublisher(c, cfg.TopicPrefix, cfg.QueueSize), nil
}

func newPublisher(c client, prefix string, queueSize int) *MQTTPublisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	p := &MQTTPublisher{
		client: c,
		prefix: prefix,
		queue:  make(chan envelope, queueSize),
		done:   make(chan struct{}),
		log:    utils.L().WithField("component", "mqtt"),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Topic returns the topic readings of session are published on.
func (p *MQTTPublisher) Topic(session string) string {
	if p.prefix == "" {
		return session
	}
	return p.prefix + "/" + session
}

// Publish queues r for session. It reports false when the reading was
// dropped because the queue is full or the publisher is closed.
func (p *MQTTPublisher) Publish(session string, r models.Reading) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	env := envelope{
		topic: p.Topic(session),
		msg:   Message{Session: session, Time: r.Timestamp, X: r.X, Y: r.Y, Z: r.Z},
	}
	select {
	case p.queue <- env:
		atomic.AddUint64(&p.queued, 1)
		return true
	default:
		atomic.AddUint64(&p.dropped, 1)
		return false
	}
}

func (p *MQTTPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case env := <-p.queue:
			p.send(env)
		case <-p.done:
			// drain what is already queued
			for {
				select {
				case env := <-p.queue:
					p.send(env)
				default:
					return
				}
			}
		}
	}
}

func (p *MQTTPublisher) send(env envelope) {
	payload, err := json.Marshal(env.msg)
	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		return
	}
	token := p.client.Publish(env.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		atomic.AddUint64(&p.failed, 1)
		p.log.WithField("topic", env.topic).Warn("publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.log.WithError(err).WithField("topic", env.topic).Warn("publish failed")
		return
	}
	atomic.AddUint64(&p.published, 1)
}

// Stats returns the publisher counters.
func (p *MQTTPublisher) Stats() Stats {
	return Stats{
		Queued:    atomic.LoadUint64(&p.queued),
		Published: atomic.LoadUint64(&p.published),
		Dropped:   atomic.LoadUint64(&p.dropped),
		Failed:    atomic.LoadUint64(&p.failed),
	}
}

// Close flushes the queue and disconnects. Safe to call more than once.
func (p *MQTTPublisher) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.client.Disconnect(250)
		s := p.Stats()
		p.log.Infof("mqtt publisher closed (published=%d, dropped=%d, failed=%d)",
			s.Published, s.Dropped, s.Failed)
	})
	return nil
}
