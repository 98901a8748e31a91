package reactor

import "github.com/vcsnet/netsync/metrics"

const subsystem = "reactor"

var (
	activeSessions = metrics.NewGauge(
		"active_sessions",
		subsystem,
		"number of sessions served by the reactor",
		[]string{},
	).WithLabelValues()
	accepted = metrics.NewCounter(
		"accepted_connections",
		subsystem,
		"number of accepted connections by outcome",
		[]string{"result"},
	)
)
