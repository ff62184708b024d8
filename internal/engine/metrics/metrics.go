/*
Copyright 2024 The SnapDB Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the engine's Prometheus instrumentation. All
// collectors are registered on an explicit registry passed in at
// construction, never on the global default.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles every engine-level collector.
type Set struct {
	AttachedArchives  *prometheus.GaugeVec
	BufferedPoints    *prometheus.GaugeVec
	SoftCommits       *prometheus.CounterVec
	HardCommits       *prometheus.CounterVec
	HardCommitErrors  *prometheus.CounterVec
	PointsRead        *prometheus.CounterVec
	PointsWritten     *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	AuthFailures      prometheus.Counter
}

// New builds and registers the collector set on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		AttachedArchives: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snapdb_attached_archives",
			Help: "Archives currently attached to a database.",
		}, []string{"database"}),
		BufferedPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snapdb_buffered_points",
			Help: "Points in the in-memory write buffer awaiting hard commit.",
		}, []string{"database"}),
		SoftCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapdb_soft_commits_total",
			Help: "Soft commits making buffered points visible to new reads.",
		}, []string{"database"}),
		HardCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapdb_hard_commits_total",
			Help: "Hard commits flushing the write buffer to disk.",
		}, []string{"database"}),
		HardCommitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapdb_hard_commit_errors_total",
			Help: "Hard commits that failed and preserved the buffer for retry.",
		}, []string{"database"}),
		PointsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapdb_points_read_total",
			Help: "Points emitted to clients after filtering.",
		}, []string{"database"}),
		PointsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapdb_points_written_total",
			Help: "Points accepted from clients.",
		}, []string{"database"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapdb_active_connections",
			Help: "Currently connected clients.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapdb_auth_failures_total",
			Help: "Failed authentication handshakes.",
		}),
	}
	reg.MustRegister(
		s.AttachedArchives, s.BufferedPoints, s.SoftCommits, s.HardCommits,
		s.HardCommitErrors, s.PointsRead, s.PointsWritten,
		s.ActiveConnections, s.AuthFailures,
	)
	return s
}
