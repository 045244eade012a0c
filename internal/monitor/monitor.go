// Package monitor turns driver command, pool and server events into logs and metrics.
package monitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/event"
	"go.uber.org/zap"

	"github.com/kinfkong/docstore/internal/logging"
)

const (
	namespace = "docstore"
	subsystem = "client"
)

// Command results used as label values.
const (
	resultOK     = "ok"
	resultFailed = "failed"
)

// Monitor collects client metrics. It implements prometheus.Collector.
type Monitor struct {
	l *zap.Logger

	commands         *prometheus.CounterVec
	commandDurations *prometheus.HistogramVec
	connsCreated     prometheus.Counter
	connsClosed      *prometheus.CounterVec
	connsCheckedOut  prometheus.Gauge
	poolsCleared     prometheus.Counter
	heartbeats       *prometheus.CounterVec
	topologyChanges  prometheus.Counter
}

// New creates a Monitor logging through l. Every metric carries a "client"
// label set to client, so monitors of several clients can share a registry
// as long as their client values differ.
func New(l *zap.Logger, client string) *Monitor {
	labels := prometheus.Labels{"client": client}

	return &Monitor{
		l: logging.Named(l, "monitor"),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "commands_total",
				Help:        "Total number of commands sent, by command and result.",
			},
			[]string{"command", "result"},
		),
		commandDurations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "command_duration_seconds",
				Help:        "Command round-trip durations.",
				Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"command"},
		),
		connsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "connections_created_total",
				Help:        "Total number of pooled connections created.",
			},
		),
		connsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "connections_closed_total",
				Help:        "Total number of pooled connections closed, by reason.",
			},
			[]string{"reason"},
		),
		connsCheckedOut: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "connections_checked_out",
				Help:        "Number of connections currently checked out of the pool.",
			},
		),
		poolsCleared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "pool_cleared_total",
				Help:        "Total number of connection pool clears.",
			},
		),
		heartbeats: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "heartbeats_total",
				Help:        "Total number of server heartbeats, by result.",
			},
			[]string{"result"},
		),
		topologyChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				ConstLabels: labels,
				Name:        "topology_changes_total",
				Help:        "Total number of topology description changes.",
			},
		),
	}
}

// Command returns the driver command monitor.
func (m *Monitor) Command() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(_ context.Context, e *event.CommandStartedEvent) {
			m.l.Debug(
				"Command started",
				zap.String("command", e.CommandName),
				zap.String("database", e.DatabaseName),
				zap.Int64("request_id", e.RequestID),
				zap.String("connection", e.ConnectionID),
			)
		},
		Succeeded: func(_ context.Context, e *event.CommandSucceededEvent) {
			m.observeCommand(e.CommandName, resultOK, e.Duration)
			m.l.Debug(
				"Command succeeded",
				zap.String("command", e.CommandName),
				zap.String("database", e.DatabaseName),
				zap.Int64("request_id", e.RequestID),
				zap.Duration("duration", e.Duration),
			)
		},
		Failed: func(_ context.Context, e *event.CommandFailedEvent) {
			m.observeCommand(e.CommandName, resultFailed, e.Duration)
			m.l.Warn(
				"Command failed",
				zap.String("command", e.CommandName),
				zap.String("database", e.DatabaseName),
				zap.Int64("request_id", e.RequestID),
				zap.Duration("duration", e.Duration),
				zap.String("failure", e.Failure),
			)
		},
	}
}

func (m *Monitor) observeCommand(name, result string, d time.Duration) {
	m.commands.WithLabelValues(name, result).Inc()
	m.commandDurations.WithLabelValues(name).Observe(d.Seconds())
}

// Pool returns the driver connection pool monitor.
func (m *Monitor) Pool() *event.PoolMonitor {
	return &event.PoolMonitor{
		Event: func(e *event.PoolEvent) {
			switch e.Type {
			case event.PoolCreated, event.PoolReady:
				m.l.Debug("Connection pool event", zap.String("type", e.Type), zap.String("address", e.Address))
			case event.PoolCleared:
				m.poolsCleared.Inc()
				m.l.Info("Connection pool cleared", zap.String("address", e.Address), zap.Error(e.Error))
			case event.PoolClosedEvent:
				m.l.Debug("Connection pool closed", zap.String("address", e.Address))
			case event.ConnectionCreated:
				m.connsCreated.Inc()
			case event.ConnectionClosed:
				m.connsClosed.WithLabelValues(e.Reason).Inc()
				m.l.Debug(
					"Connection closed",
					zap.String("address", e.Address),
					zap.Uint64("connection_id", e.ConnectionID),
					zap.String("reason", e.Reason),
				)
			case event.GetSucceeded:
				m.connsCheckedOut.Inc()
			case event.ConnectionReturned:
				m.connsCheckedOut.Dec()
			case event.GetFailed:
				m.l.Warn(
					"Connection check out failed",
					zap.String("address", e.Address),
					zap.String("reason", e.Reason),
					zap.Duration("duration", e.Duration),
				)
			}
		},
	}
}

// Server returns the driver server and topology monitor.
func (m *Monitor) Server() *event.ServerMonitor {
	return &event.ServerMonitor{
		ServerHeartbeatSucceeded: func(e *event.ServerHeartbeatSucceededEvent) {
			m.heartbeats.WithLabelValues(resultOK).Inc()
		},
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			m.heartbeats.WithLabelValues(resultFailed).Inc()
			m.l.Warn(
				"Server heartbeat failed",
				zap.String("connection", e.ConnectionID),
				zap.Duration("duration", e.Duration),
				zap.Error(e.Failure),
			)
		},
		ServerDescriptionChanged: func(e *event.ServerDescriptionChangedEvent) {
			m.l.Debug(
				"Server description changed",
				zap.Stringer("address", e.Address),
				zap.Stringer("previous", e.PreviousDescription.Kind),
				zap.Stringer("new", e.NewDescription.Kind),
			)
		},
		TopologyDescriptionChanged: func(e *event.TopologyDescriptionChangedEvent) {
			m.topologyChanges.Inc()
			m.l.Info(
				"Topology changed",
				zap.Stringer("previous", e.PreviousDescription.Kind),
				zap.Stringer("new", e.NewDescription.Kind),
			)
		},
	}
}

// Describe implements prometheus.Collector.
func (m *Monitor) Describe(ch chan<- *prometheus.Desc) {
	m.commands.Describe(ch)
	m.commandDurations.Describe(ch)
	m.connsCreated.Describe(ch)
	m.connsClosed.Describe(ch)
	m.connsCheckedOut.Describe(ch)
	m.poolsCleared.Describe(ch)
	m.heartbeats.Describe(ch)
	m.topologyChanges.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Monitor) Collect(ch chan<- prometheus.Metric) {
	m.commands.Collect(ch)
	m.commandDurations.Collect(ch)
	m.connsCreated.Collect(ch)
	m.connsClosed.Collect(ch)
	m.connsCheckedOut.Collect(ch)
	m.poolsCleared.Collect(ch)
	m.heartbeats.Collect(ch)
	m.topologyChanges.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Monitor)(nil)
)
