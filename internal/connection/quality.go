package connection

import "time"

// Quality is a coarse classification of how fast the most recent
// successful attempt was. It is always derived from attempt duration,
// never set directly.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityCritical  Quality = "critical"
)

// QualityFor derives the connection quality from an attempt duration.
func QualityFor(duration time.Duration) Quality {
	switch {
	case duration < 2*time.Second:
		return QualityExcellent
	case duration < 8*time.Second:
		return QualityGood
	case duration < 15*time.Second:
		return QualityPoor
	default:
		return QualityCritical
	}
}
