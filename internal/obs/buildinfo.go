package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo describes the running binary and the backends it was wired with.
type BuildInfo struct {
	Version string
	Commit  string
	Store   string // "memory" or "postgres"
	Revoker string // "memory" or "redis"
}

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casedesk_build_info",
			Help: "casedesk API build and backend information.",
		},
		[]string{"version", "commit", "store", "revoker"},
	)
)

// InitBuildInfo registers casedesk_build_info once and sets the series for bi to 1.
// Unset fields are reported as "unknown".
func InitBuildInfo(bi BuildInfo) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(orUnknown(bi.Version), orUnknown(bi.Commit), orUnknown(bi.Store), orUnknown(bi.Revoker)).Set(1)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
