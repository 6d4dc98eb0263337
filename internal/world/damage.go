package world

import "math"

const (
	// FallThreshold is the height an egg survives undamaged.
	FallThreshold = 100.0
	// FallRange is the extra height over which damage ramps up to maxLife.
	FallRange = 400.0
)

// FallDamage is floor(maxLife * min((height-100)/400, 1)) above the threshold.
func FallDamage(height float64, maxLife int) int {
	if height <= FallThreshold || maxLife <= 0 {
		return 0
	}
	f := math.Min((height-FallThreshold)/FallRange, 1)
	return int(math.Floor(float64(maxLife) * f))
}
