package alerts

import "github.com/nmslite/netmon/internal/model"

// Observe extracts the value a metric type evaluates from a sample. The
// second result is false when the sample carries no such observation.
//
// status maps up to 1 and down to 0; unknown is not an observation.
// interface_down counts operationally down interfaces and
// volume_usage_percent is the fullest volume.
func Observe(metric model.MetricType, s model.MetricSample) (float64, bool) {
	switch metric {
	case model.MetricStatus:
		switch s.Status {
		case model.StatusUp:
			return 1, true
		case model.StatusDown:
			return 0, true
		}
		return 0, false
	case model.MetricLatency:
		return deref(s.LatencyMs)
	case model.MetricPacketLoss:
		return deref(s.PacketLoss)
	case model.MetricCPU:
		return deref(s.CPUPercent)
	case model.MetricMemory:
		return deref(s.MemoryPercent)
	case model.MetricInterfaceDown:
		if len(s.Interfaces) == 0 {
			return 0, false
		}
		var n float64
		for _, i := range s.Interfaces {
			if i.OperStatus == "down" {
				n++
			}
		}
		return n, true
	case model.MetricVolumeUsage:
		if len(s.Volumes) == 0 {
			return 0, false
		}
		var fullest float64
		for _, v := range s.Volumes {
			fullest = max(fullest, v.UsagePercent)
		}
		return fullest, true
	}
	return 0, false
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
