package policy

import "github.com/vcsnet/netsync/metrics"

const subsystem = "sync"

var (
	started = metrics.NewCounter(
		"started",
		subsystem,
		"number of syncs started",
		[]string{"voice", "role"},
	)
	ended = metrics.NewCounter(
		"ended",
		subsystem,
		"number of syncs ended by result code",
		[]string{"voice", "code"},
	)
	items = metrics.NewCounter(
		"items",
		subsystem,
		"number of items moved by syncs",
		[]string{"direction", "type"},
	)
)
