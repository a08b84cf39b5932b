package pebblekv

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// collector exports a subset of pebble's internal metrics.
type collector struct {
	db *pebble.DB

	compactions    *prometheus.Desc
	compactionDebt *prometheus.Desc
	memtableSize   *prometheus.Desc
	memtableCount  *prometheus.Desc
	walFiles       *prometheus.Desc
	walSize        *prometheus.Desc
	walBytesIn     *prometheus.Desc
	diskUsage      *prometheus.Desc
}

func newCollector(db *pebble.DB) *collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("eduapp_pebble_"+name, help, nil, nil)
	}
	return &collector{
		db:             db,
		compactions:    desc("compactions_total", "Total number of compactions performed."),
		compactionDebt: desc("compaction_debt_bytes", "Estimated bytes left to compact to reach a stable state."),
		memtableSize:   desc("memtable_size_bytes", "Bytes allocated by memtables."),
		memtableCount:  desc("memtables", "Number of memtables."),
		walFiles:       desc("wal_files", "Number of live WAL files."),
		walSize:        desc("wal_size_bytes", "Size of live WAL data."),
		walBytesIn:     desc("wal_bytes_in_total", "Logical bytes written to the WAL."),
		diskUsage:      desc("disk_usage_bytes", "Total disk space used by the store."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactions
	ch <- c.compactionDebt
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
	ch <- c.walBytesIn
	ch <- c.diskUsage
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.db.Metrics()
	ch <- prometheus.MustNewConstMetric(c.compactions, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(c.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.walBytesIn, prometheus.CounterValue, float64(m.WAL.BytesIn))
	ch <- prometheus.MustNewConstMetric(c.diskUsage, prometheus.GaugeValue, float64(m.DiskSpaceUsage()))
}

// RegisterMetrics exposes the store's metrics on reg until Close.
func (k *KV) RegisterMetrics(reg prometheus.Registerer) error {
	c := newCollector(k.db)
	if err := reg.Register(c); err != nil {
		return err
	}
	k.reg, k.collector = reg, c
	return nil
}
