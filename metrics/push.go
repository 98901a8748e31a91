package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushOnce pushes the default registry to a prometheus push gateway. Short
// lived client runs use it instead of serving /metrics.
func PushOnce(url, job, instance string) error {
	err := push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", instance).
		Push()
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
