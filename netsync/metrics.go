package netsync

import (
	"github.com/vcsnet/netsync/metrics"
)

const subsystem = "session"

var (
	sessionsStarted = metrics.NewCounter(
		"started",
		subsystem,
		"number of sessions that completed the handshake",
		[]string{"voice", "role"},
	)
	sessionsFinished = metrics.NewCounter(
		"finished",
		subsystem,
		"number of finished sessions by result code",
		[]string{"voice", "code"},
	)
	bytesTransferred = metrics.NewCounter(
		"bytes",
		subsystem,
		"bytes transferred over netsync connections",
		[]string{"direction"},
	)
	itemsTransferred = metrics.NewCounter(
		"items",
		subsystem,
		"items transferred by type",
		[]string{"direction", "type"},
	)
	refineCommands = metrics.NewCounter(
		"refine_commands",
		subsystem,
		"refinement commands processed",
		[]string{"type"},
	)
	sessionDuration = metrics.NewHistogram(
		"duration_seconds",
		subsystem,
		"duration of finished sessions in seconds",
		[]string{"voice"},
	)
	droppedCerts = metrics.NewCounter(
		"dropped_certs",
		subsystem,
		"received certs dropped before storing",
		[]string{"reason"},
	)
)

const (
	dirIn  = "in"
	dirOut = "out"
)
