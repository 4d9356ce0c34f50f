package compensation

// Classify buckets a flight by duration and international status.
func Classify(durationHours float64, international bool) Category {
	switch {
	case international:
		return International
	case durationHours < 1:
		return DomesticShort
	case durationHours <= 2:
		return DomesticMedium
	default:
		return DomesticLong
	}
}
