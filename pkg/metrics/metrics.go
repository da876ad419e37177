// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Exporter interface {
	Export()
}

const (
	namespace = "gridtiff"
	subsystem = "convert"
)

var (
	convertDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "The total duration of converting a grid file. Broken down by source file and grid count.",
		},
		[]string{"source_file", "grids"},
	)

	convertCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "count",
			Help:      "The total converting times. Broken down by source file.",
		},
		[]string{"source_file"},
	)

	dedupSavedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dedup_saved_bytes",
			Help:      "Output bytes elided by metadata deduplication. Broken down by source file.",
		},
		[]string{"source_file"},
	)
)

var register sync.Once
var Registry *prometheus.Registry
var exporter Exporter

func sinceInSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// Register registers metrics. This is always called only once.
func Register(exp Exporter) {
	register.Do(func() {
		Registry = prometheus.NewRegistry()
		Registry.MustRegister(convertDuration, convertCount, dedupSavedBytes)
		exporter = exp
	})
}

func Export() {
	if exporter != nil {
		exporter.Export()
	}
}

func ConversionDuration(file string, grids int, start time.Time) {
	convertDuration.WithLabelValues(file, strconv.Itoa(grids)).Add(sinceInSeconds(start))
}

func ConversionCount(file string) {
	convertCount.WithLabelValues(file).Inc()
}

func DedupSavedBytes(file string, bytes int64) {
	dedupSavedBytes.WithLabelValues(file).Add(float64(bytes))
}
