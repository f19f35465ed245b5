package prometheus

import (
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/vejapro/portalauth"
	"github.com/vejapro/portalauth/metrics/export/internaldefs"
)

// Collector exposes portalauth metrics to a client_golang registry. Each
// Collect reads one snapshot from the source.
type Collector struct {
	source     MetricsSource
	counters   []collectorCounter
	histograms []collectorHistogram
	dropped    *prom.Desc
	upperBound []float64
}

type collectorCounter struct {
	id   portalauth.MetricID
	desc *prom.Desc
}

type collectorHistogram struct {
	id   portalauth.MetricID
	desc *prom.Desc
}

var _ prom.Collector = (*Collector)(nil)

// NewCollector builds a Collector reading from source.
func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:  source,
		dropped: prom.NewDesc(auditDroppedName, auditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, collectorCounter{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, collectorHistogram{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	// The last bound is +Inf, which client_golang adds itself.
	for _, le := range internaldefs.HistogramBounds[:len(internaldefs.HistogramBounds)-1] {
		v, _ := strconv.ParseFloat(le, 64)
		c.upperBound = append(c.upperBound, v)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, cc := range c.counters {
		ch <- cc.desc
	}
	for _, h := range c.histograms {
		ch <- h.desc
	}
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, cc := range c.counters {
		ch <- prom.MustNewConstMetric(cc.desc, prom.CounterValue, float64(snapshot.Counters[cc.id]))
	}
	for _, h := range c.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(c.upperBound))
		for i, ub := range c.upperBound {
			buckets[ub] = cumulative[i]
		}
		ch <- prom.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- prom.MustNewConstMetric(c.dropped, prom.CounterValue, float64(c.source.AuditDropped()))
}
