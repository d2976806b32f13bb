// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prometheus exports metrics in the Prometheus text exposition
// format, documented at:
// https://prometheus.io/docs/instrumenting/exposition_formats/
package prometheus

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"sysgate.dev/sysgate/pkg/metric"
)

// DefaultPrefix is prepended to every exported metric name.
const DefaultPrefix = "sysgate_"

// MetricName converts a metric path such as "/syscalls/count" into a
// Prometheus name such as "sysgate_syscalls_count".
func MetricName(prefix, name string) string {
	name = strings.TrimPrefix(name, "/")
	return prefix + strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
}

// MetricFamilies converts metric snapshots into Prometheus metric families.
// Cumulative metrics become counters and the rest gauges.
func MetricFamilies(prefix string, snaps []metric.Snapshot) []*dto.MetricFamily {
	families := make([]*dto.MetricFamily, 0, len(snaps))
	for _, s := range snaps {
		mf := &dto.MetricFamily{
			Name: proto.String(MetricName(prefix, s.Name)),
			Help: proto.String(s.Description),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		if s.Cumulative {
			mf.Type = dto.MetricType_COUNTER.Enum()
		}
		for _, p := range s.Points {
			m := &dto.Metric{}
			for i, v := range p.FieldValues {
				m.Label = append(m.Label, &dto.LabelPair{
					Name:  proto.String(s.Fields[i]),
					Value: proto.String(v),
				})
			}
			if s.Cumulative {
				m.Counter = &dto.Counter{Value: proto.Float64(float64(p.Value))}
			} else {
				m.Gauge = &dto.Gauge{Value: proto.Float64(float64(p.Value))}
			}
			mf.Metric = append(mf.Metric, m)
		}
		families = append(families, mf)
	}
	return families
}

// Write writes snaps to w in text format.
func Write(w io.Writer, prefix string, snaps []metric.Snapshot) (int, error) {
	total := 0
	for _, mf := range MetricFamilies(prefix, snaps) {
		n, err := expfmt.MetricFamilyToText(w, mf)
		total += n
		if err != nil {
			return total, fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return total, nil
}

// WriteCurrent writes the current value of every registered metric.
func WriteCurrent(w io.Writer) (int, error) {
	return Write(w, DefaultPrefix, metric.GetSnapshot())
}

// GetInteger parses text-format metric data and returns the value of the
// single data point of name whose labels include wantLabels.
func GetInteger(data []byte, name string, wantLabels map[string]string) (int64, error) {
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	mf, ok := parsed[name]
	if !ok {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	found := -1
	for i, m := range mf.GetMetric() {
		labels := make(map[string]string, len(m.GetLabel()))
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		match := true
		for k, v := range wantLabels {
			if labels[k] != v {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if found != -1 {
			return 0, fmt.Errorf("multiple data points of %q match labels %v", name, wantLabels)
		}
		found = i
	}
	if found == -1 {
		return 0, fmt.Errorf("no data point of %q matches labels %v", name, wantLabels)
	}
	m := mf.GetMetric()[found]
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		return int64(m.GetCounter().GetValue()), nil
	case dto.MetricType_GAUGE:
		return int64(m.GetGauge().GetValue()), nil
	default:
		return int64(m.GetUntyped().GetValue()), nil
	}
}
