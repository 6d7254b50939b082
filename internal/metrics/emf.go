// Package metrics emits per-operation measurements as single-line JSON
// documents in an embedded-metrics layout: a "_metrics" directive naming the
// namespace, dimensions and metric units, followed by the values as top-level
// fields. Documents go to whatever io.Writer the Sink was built with, usually
// a file given on the command line. A nil Sink discards everything.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
)

// DefaultNamespace is used when NewSink is given an empty namespace.
const DefaultNamespace = "PhotoEnhancer"

// metricDef holds the name and unit for a single metric.
type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// directive is the metadata block written under "_metrics".
type directive struct {
	Timestamp  int64       `json:"Timestamp"`
	Namespace  string      `json:"Namespace"`
	Dimensions []string    `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Sink serializes flushed documents onto one writer. It is safe for
// concurrent use; each document is written with a single Write call.
type Sink struct {
	mu        sync.Mutex
	w         io.Writer
	namespace string
	now       func() time.Time
}

// NewSink creates a Sink writing to w.
func NewSink(w io.Writer, namespace string) *Sink {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Sink{w: w, namespace: namespace, now: time.Now}
}

// New starts a Recorder for one operation. Calling New on a nil Sink returns
// a Recorder whose Flush is a no-op.
func (s *Sink) New() *Recorder {
	r := &Recorder{
		sink:       s,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	return r
}

func (s *Sink) write(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(line)
	return err
}

// Recorder accumulates dimensions, metrics, and properties for a single flush.
// It is NOT safe for concurrent use from multiple goroutines; create one per operation.
type Recorder struct {
	sink       *Sink
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

// Dimension adds a dimension key-value pair, e.g. Operation=upload.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named metric value with a unit.
// Use the Unit* constants (UnitMilliseconds, UnitCount, UnitBytes).
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count is a convenience for recording a count metric (value = 1).
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Microseconds())/1000, UnitMilliseconds)
}

// Bytes records a byte count.
func (r *Recorder) Bytes(name string, n int64) *Recorder {
	return r.Metric(name, float64(n), UnitBytes)
}

// Property adds a non-metric field to the document.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush serializes the document as a single JSON line. Recorders without
// metrics, or created from a nil Sink, write nothing. After flushing, the
// Recorder should not be reused.
func (r *Recorder) Flush() error {
	if r.sink == nil || r.sink.w == nil || len(r.metrics) == 0 {
		return nil
	}

	doc, err := json.Marshal(r.document())
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if err := r.sink.write(append(doc, '\n')); err != nil {
		log.Warn().Err(err).Msg("Failed to write metrics")
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func (r *Recorder) document() map[string]interface{} {
	metricDefs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		metricDefs = append(metricDefs, m)
	}
	sort.Slice(metricDefs, func(i, j int) bool { return metricDefs[i].Name < metricDefs[j].Name })

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc := make(map[string]interface{}, 1+len(r.dimensions)+len(r.values)+len(r.properties))
	doc["_metrics"] = directive{
		Timestamp:  r.sink.now().UnixMilli(),
		Namespace:  r.sink.namespace,
		Dimensions: dimKeys,
		Metrics:    metricDefs,
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	for k, v := range r.properties {
		doc[k] = v
	}
	return doc
}
