package compensation

// Obligation thresholds in hours of delay.
const (
	CareThresholdHours                  = 2.0
	DomesticAccommodationThreshold      = 6.0
	InternationalAccommodationThreshold = 12.0
)

// DeriveObligations returns the airline's duties for a delay. The flight
// is categorised as domestic.
func DeriveObligations(delayHours, durationHours float64) Obligations {
	return DeriveObligationsFor(delayHours, Classify(durationHours, false))
}

// DeriveObligationsFor returns the airline's duties for a delay on a
// flight of the given category.
func DeriveObligationsFor(delayHours float64, category Category) Obligations {
	var o Obligations

	if delayHours >= CareThresholdHours {
		o.Meals = true
		o.Communication = true
	}

	threshold := DomesticAccommodationThreshold
	if category == International {
		threshold = InternationalAccommodationThreshold
	}
	if delayHours >= threshold {
		o.Hotel = true
		o.RefundOption = true
	}

	return o
}
