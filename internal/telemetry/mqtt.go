// Package telemetry publishes periodic capture statistics to an MQTT
// broker for fleet monitoring. Telemetry is best-effort: a broker outage
// never disturbs the capture session.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	picam "github.com/aDifferentJT/rpi-cam-control"
)

// Options configures an Emitter.
type Options struct {
	// Broker is the host:port of the MQTT broker.
	Broker string
	// InstanceID identifies this camera; it becomes the client ID and
	// part of the stats topic.
	InstanceID string
	// TopicPrefix roots the stats topic: <prefix>/<instance>/stats.
	TopicPrefix string
	// QoS for stats publishes.
	QoS byte
	// Interval between snapshots.
	Interval time.Duration
}

// Emitter publishes capture statistics snapshots over MQTT.
type Emitter struct {
	broker   string
	clientID string
	topic    string
	qos      byte
	interval time.Duration

	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64

	wg sync.WaitGroup
}

// New creates an emitter; Connect establishes the broker session.
func New(opts Options) *Emitter {
	return &Emitter{
		broker:   opts.Broker,
		clientID: opts.InstanceID,
		topic:    fmt.Sprintf("%s/%s/stats", opts.TopicPrefix, opts.InstanceID),
		qos:      opts.QoS,
		interval: opts.Interval,
	}
}

// Connect establishes the connection to the MQTT broker with automatic
// reconnection.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("telemetry: mqtt connection established",
			"broker", e.broker, "client_id", e.clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err, "broker", e.broker)
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("telemetry: connecting to mqtt broker", "broker", e.broker)
	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("telemetry: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Run starts the periodic publisher. snapshot is called once per interval
// on the emitter's goroutine; it must be safe to call from there. Run
// returns immediately; publishing stops when ctx is cancelled.
func (e *Emitter) Run(ctx context.Context, snapshot func() picam.CaptureStats) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.publish(snapshot()); err != nil {
					slog.Debug("telemetry: stats publish failed", "error", err)
				}
			}
		}
	}()
}

func (e *Emitter) publish(stats picam.CaptureStats) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("telemetry: mqtt not connected")
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		e.countError()
		return fmt.Errorf("telemetry: marshaling stats: %w", err)
	}

	token := e.client.Publish(e.topic, e.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("telemetry: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("telemetry: stats published", "topic", e.topic, "size", len(payload))
	return nil
}

// Close waits for the publisher to stop and disconnects from the broker.
// Call after cancelling the Run context.
func (e *Emitter) Close() error {
	e.wg.Wait()

	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("telemetry: mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}

// Stats reports emitter health counters.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
