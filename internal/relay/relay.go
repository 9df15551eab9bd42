// Package relay forwards fire alarms and the nearest beacon to an MQTT broker.
//
// Fire state is published on every transition to <prefix>/fire/status as a
// retained QoS 1 message. The strongest beacon goes to
// <prefix>/beacon/strongest at QoS 0, at most once per min interval.
// Publishing happens on the Run goroutine so callers never block on the
// network.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"firewatch/internal/beacon"
	"firewatch/internal/config"
	"firewatch/internal/monitor"
)

const queueSize = 32

// Publisher sends raw messages
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// FireStatus is the payload of the fire topic
type FireStatus struct {
	FireDetected bool      `json:"fireDetected"`
	DetectedAt   string    `json:"detectedAt,omitempty"`
	VideoName    string    `json:"videoName,omitempty"`
	PublishedAt  time.Time `json:"publishedAt"`
}

// Strongest is the payload of the beacon topic
type Strongest struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Band        string    `json:"band"`
	NamespaceID string    `json:"namespaceId,omitempty"`
	InstanceID  string    `json:"instanceId,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// Relay turns state snapshots into MQTT messages
type Relay struct {
	pub     Publisher
	prefix  string
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
	queue   chan message

	mu            sync.Mutex
	fireKnown     bool
	lastFire      bool
	lastStrongest string
	scanning      bool
}

// New creates a relay over pub
func New(pub Publisher, cfg config.RelayConfig, logger *slog.Logger) *Relay {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Relay{
		pub:     pub,
		prefix:  cfg.TopicPrefix,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
		queue:   make(chan message, queueSize),
	}
}

// FireTopic returns the topic fire transitions are published to
func (r *Relay) FireTopic() string {
	return r.prefix + "/fire/status"
}

// BeaconTopic returns the topic the strongest beacon is published to
func (r *Relay) BeaconTopic() string {
	return r.prefix + "/beacon/strongest"
}

// HandleMonitor publishes the fire state when it changes. Unknown states are ignored.
func (r *Relay) HandleMonitor(s monitor.Snapshot) {
	if s.Fire.Value == nil {
		return
	}
	detected := s.Fire.Value.FireDetected

	r.mu.Lock()
	if r.fireKnown && r.lastFire == detected {
		r.mu.Unlock()
		return
	}
	r.fireKnown = true
	r.lastFire = detected
	r.mu.Unlock()

	r.enqueue(r.FireTopic(), 1, true, FireStatus{
		FireDetected: detected,
		DetectedAt:   s.Fire.Value.DetectedAt,
		VideoName:    s.Fire.Value.VideoName,
		PublishedAt:  r.now(),
	})
}

// HandleScan publishes the strongest beacon when it changes, rate limited.
// When a scan ends, its final strongest beacon is published even if the
// limiter dropped it.
func (r *Relay) HandleScan(s beacon.Snapshot) {
	r.mu.Lock()
	ended := r.scanning && !s.Session.Active
	r.scanning = s.Session.Active
	if s.Strongest == nil || s.Strongest.RSSI == nil {
		r.mu.Unlock()
		return
	}
	d := *s.Strongest
	key := d.ID + "|" + strconv.Itoa(*d.RSSI)

	if key == r.lastStrongest {
		r.mu.Unlock()
		return
	}
	if !r.limiter.Allow() && !ended {
		r.mu.Unlock()
		return
	}
	r.lastStrongest = key
	r.mu.Unlock()

	r.enqueue(r.BeaconTopic(), 0, false, Strongest{
		ID:          d.ID,
		Name:        d.DisplayName(),
		RSSI:        *d.RSSI,
		Band:        d.Band().String(),
		NamespaceID: d.NamespaceID,
		InstanceID:  d.InstanceID,
		PublishedAt: r.now(),
	})
}

func (r *Relay) enqueue(topic string, qos byte, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("failed to encode relay message", "topic", topic, "error", err)
		return
	}
	select {
	case r.queue <- message{topic: topic, qos: qos, retained: retained, payload: payload}:
	default:
		r.logger.Warn("relay queue full, dropping message", "topic", topic)
	}
}

// Run publishes queued messages until ctx is done, then closes the publisher
func (r *Relay) Run(ctx context.Context) {
	defer r.pub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.queue:
			if err := r.pub.Publish(m.topic, m.qos, m.retained, m.payload); err != nil {
				r.logger.Warn("failed to publish", "topic", m.topic, "error", err)
				continue
			}
			r.logger.Debug("published", "topic", m.topic)
		}
	}
}
