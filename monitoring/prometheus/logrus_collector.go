package prometheus

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var logEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "log_entries_total",
	Help: "Log messages emitted, partitioned by level and package prefix.",
}, []string{"level", "prefix"})

// LogrusCollector counts emitted log entries per level and package prefix.
// Install it once with logrus.AddHook.
type LogrusCollector struct {
	entries *prometheus.CounterVec
}

// NewLogrusCollector returns a hook backed by the process-wide counter.
func NewLogrusCollector() *LogrusCollector {
	return &LogrusCollector{entries: logEntries}
}

// Fire counts a single log entry. Entries without a prefix field are
// attributed to "global".
func (c *LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := "global"
	if v, ok := entry.Data["prefix"]; ok {
		s, ok := v.(string)
		if !ok {
			return errors.New("log prefix field is not a string")
		}
		prefix = s
	}
	c.entries.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels restricts the hook to info and above.
func (_ *LogrusCollector) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
}
