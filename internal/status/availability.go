package status

import (
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/model"
)

// Availability computes reachability over attempted polls. Wall-clock gaps
// between samples are ignored, and samples whose composite status is
// unknown are excluded because no protocol produced a result.
func Availability(deviceID uuid.UUID, since time.Time, samples []model.MetricSample) model.Availability {
	av := model.Availability{DeviceID: deviceID, Since: since}

	var latencySum float64
	var latencyN int
	for _, s := range samples {
		if s.CollectedAt.Before(since) || s.Status == model.StatusUnknown {
			continue
		}
		av.Attempts++
		if s.Reachable {
			av.Reachable++
			if s.LatencyMs != nil {
				latencySum += *s.LatencyMs
				latencyN++
			}
		}
	}

	if av.Attempts > 0 {
		av.Percent = float64(av.Reachable) / float64(av.Attempts) * 100
	}
	if latencyN > 0 {
		avg := latencySum / float64(latencyN)
		av.AvgLatency = &avg
	}
	return av
}
