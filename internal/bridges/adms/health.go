package adms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// HealthPublisher publishes health messages. Usually the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	ServerID string
	Version  string

	// Interval is how often to publish. Default 30 seconds.
	Interval time.Duration

	// Topic is the retained health topic.
	Topic string
	QoS   byte

	Publisher HealthPublisher

	// Devices returns the number of known device sessions. Optional.
	Devices func() int

	// Stats returns the bridge counters. Optional.
	Stats func() BridgeStatistics
}

// HealthReporter periodically publishes a retained HealthMessage.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	// lastErrors is the PublishErrors count at the previous report; growth
	// since then marks the bridge degraded.
	lastErrors uint64
	statsMu    sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.getLogger().Warn("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Stats == nil {
		return HealthHealthy, ""
	}
	errs := h.cfg.Stats().PublishErrors

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	grown := errs - h.lastErrors
	h.lastErrors = errs
	if grown > 0 {
		return HealthDegraded, fmt.Sprintf("%d publish errors since last report", grown)
	}
	return HealthHealthy, ""
}

// buildMessage assembles the health payload.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Server:        h.cfg.ServerID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.cfg.Devices != nil {
		msg.DevicesConnected = h.cfg.Devices()
	}
	if h.cfg.Stats != nil {
		stats := h.cfg.Stats()
		msg.Statistics = &stats
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, h.cfg.QoS, true)
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
