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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"sysgate.dev/sysgate/pkg/eventchannel"
	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInitializationDone indicates that the caller tried to create a
	// new metric after initialization.
	ErrInitializationDone = errors.New("metric cannot be created after initialization is complete")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
//
// Metrics are process-wide and are never reset.
type Uint64Metric struct {
	// fields is the map of field-value combination index keys to Uint64 counters.
	fields []atomic.Uint64

	// fieldMapper is used to generate index keys for the fields array (above)
	// based on field value combinations, and vice-versa.
	fieldMapper fieldMapper
}

// Metadata describes a registered metric.
type Metadata struct {
	Name        string
	Description string

	// Cumulative is true if the metric only ever increases.
	Cumulative bool

	// Fields are the metric's field names, in order.
	Fields []string
}

// registeredMetric is an entry in the registry.
type registeredMetric struct {
	metadata Metadata

	// mapper enumerates the field combinations of value.
	mapper fieldMapper

	// value returns the current value of the metric for the given set of
	// fields. It takes a variadic number of field values as argument.
	value func(fieldValues ...string) uint64
}

// metricSet holds all registered metrics.
type metricSet struct {
	mu sync.Mutex

	// +checklocks:mu
	initialized bool

	// +checklocks:mu
	metrics map[string]registeredMetric
}

func makeMetricSet() *metricSet {
	return &metricSet{metrics: make(map[string]registeredMetric)}
}

// allMetrics are the registered metrics.
var allMetrics = makeMetricSet()

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper provides multi-dimensional fields to a single unique integer key
type fieldMapper struct {
	// fields is a list of Field objects, which importantly include individual
	// Field names which are used to perform the keyToMultiField function; and
	// allowedValues for each field type which are used to perform the lookup
	// function.
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

// newFieldMapper returns a new fieldMapper for the given set of fields.
func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		// Disallow fields with no possible values. We could also ignore them
		// instead, but passing in a no-allowed-values field is probably a mistake.
		if len(f.allowedValues) == 0 {
			return fieldMapper{nil, 0}, ErrFieldHasNoAllowedValues
		}
		numFieldCombinations *= len(f.allowedValues)

		// Sanity check, could be useful in case someone dynamically generates too
		// many fields accidentally.
		if numFieldCombinations > math.MaxUint32 || numFieldCombinations < 0 {
			return fieldMapper{nil, 0}, ErrTooManyFieldCombinations
		}
	}

	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup looks up a key within the fieldMapper.
// The returned key is an index into the metric's counters.
// This *must* be called with the correct number of fields, or it will panic.
func (m fieldMapper) lookup(fields ...string) int {
	if len(fields) != len(m.fields) {
		panic("invalid field lookup depth")
	}
	idx := 0
	remainingCombinationBucket := m.numFieldCombinations

IdxLookup:
	for i, val := range fields {
		for valIdx, allowedVal := range m.fields[i].allowedValues {
			if val == allowedVal {
				remainingCombinationBucket /= len(m.fields[i].allowedValues)
				idx += remainingCombinationBucket * valIdx
				continue IdxLookup
			}
		}

		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}

	return idx
}

// numKeys returns the total number of key-to-field-combinations mappings
// defined by the fieldMapper.
func (m fieldMapper) numKeys() int {
	return m.numFieldCombinations
}

// keyToMultiField is the reverse of lookup. The returned list of field values
// corresponds to the same order of fields that were passed in to
// newFieldMapper.
func (m fieldMapper) keyToMultiField(key int) []string {
	if len(m.fields) == 0 && key == 0 {
		return nil
	}
	depth := len(m.fields)
	fields := make([]string, depth)
	remainingCombinationBucket := m.numFieldCombinations
	for i := 0; i < depth; i++ {
		remainingCombinationBucket /= len(m.fields[i].allowedValues)
		fields[i] = m.fields[i].allowedValues[key/remainingCombinationBucket]
		key = key % remainingCombinationBucket
	}
	return fields
}

func (m fieldMapper) names() []string {
	if len(m.fields) == 0 {
		return nil
	}
	names := make([]string, len(m.fields))
	for i, f := range m.fields {
		names[i] = f.name
	}
	return names
}

// RegisterCustomUint64Metric registers a metric with the given name whose
// value is computed by value.
//
// Preconditions:
//   - name must be globally unique.
//   - Initialize has not been called.
//   - value is expected to accept exactly len(fields) arguments.
func RegisterCustomUint64Metric(name string, cumulative bool, description string, value func(...string) uint64, fields ...Field) error {
	mapper, err := newFieldMapper(fields...)
	if err != nil {
		return err
	}

	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if allMetrics.initialized {
		return ErrInitializationDone
	}
	if _, ok := allMetrics.metrics[name]; ok {
		return ErrNameInUse
	}
	allMetrics.metrics[name] = registeredMetric{
		metadata: Metadata{
			Name:        name,
			Description: description,
			Cumulative:  cumulative,
			Fields:      mapper.names(),
		},
		mapper: mapper,
		value:  value,
	}
	return nil
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func MustRegisterCustomUint64Metric(name string, cumulative bool, description string, value func(...string) uint64, fields ...Field) {
	if err := RegisterCustomUint64Metric(name, cumulative, description, value, fields...); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
//
// Metrics must be statically defined (i.e., at init).
func NewUint64Metric(name string, description string, fields ...Field) (*Uint64Metric, error) {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		fieldMapper: f,
		fields:      make([]atomic.Uint64, f.numKeys()),
	}
	return m, RegisterCustomUint64Metric(name, true /* cumulative */, description, m.Value, fields...)
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	key := m.fieldMapper.lookup(fieldValues...)
	return m.fields[key].Load()
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	key := m.fieldMapper.lookup(fieldValues...)
	m.fields[key].Add(1)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	key := m.fieldMapper.lookup(fieldValues...)
	m.fields[key].Add(v)
}

// Initialize freezes the set of metrics and announces it on the event
// channel.
func Initialize() error {
	allMetrics.mu.Lock()
	if allMetrics.initialized {
		allMetrics.mu.Unlock()
		return errors.New("metric.Initialize called twice")
	}
	allMetrics.initialized = true
	names := make([]any, 0, len(allMetrics.metrics))
	for name := range allMetrics.metrics {
		names = append(names, name)
	}
	allMetrics.mu.Unlock()

	sort.Slice(names, func(i, j int) bool { return names[i].(string) < names[j].(string) })
	ev, err := eventchannel.Event("MetricRegistration", map[string]any{"metrics": names})
	if err != nil {
		return err
	}
	if err := eventchannel.Emit(ev); err != nil {
		return fmt.Errorf("unable to emit metric initialize event: %w", err)
	}
	log.Debugf("Registered %d metrics", len(names))
	return nil
}

// Point is the value of a metric for one combination of field values.
type Point struct {
	// FieldValues are in the order of Metadata.Fields.
	FieldValues []string
	Value       uint64
}

// Snapshot is the value of one metric at one time.
type Snapshot struct {
	Metadata
	Points []Point
}

// GetSnapshot returns the current value of every registered metric, sorted
// by name. Points with a zero value are included.
func GetSnapshot() []Snapshot {
	allMetrics.mu.Lock()
	ms := make([]registeredMetric, 0, len(allMetrics.metrics))
	for _, m := range allMetrics.metrics {
		ms = append(ms, m)
	}
	allMetrics.mu.Unlock()

	sort.Slice(ms, func(i, j int) bool { return ms[i].metadata.Name < ms[j].metadata.Name })
	snaps := make([]Snapshot, 0, len(ms))
	for _, m := range ms {
		s := Snapshot{Metadata: m.metadata}
		for key := 0; key < m.mapper.numKeys(); key++ {
			fv := m.mapper.keyToMultiField(key)
			s.Points = append(s.Points, Point{FieldValues: fv, Value: m.value(fv...)})
		}
		snaps = append(snaps, s)
	}
	return snaps
}
