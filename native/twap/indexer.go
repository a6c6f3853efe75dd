package twap

// ObservationIndexOf maps a timestamp to its ring slot. Timestamps in the same
// PeriodSize-wide epoch share a slot, and epochs Granularity apart alias.
func (c Config) ObservationIndexOf(timestamp uint64) uint64 {
	epochPeriod := timestamp / c.PeriodSize()
	return epochPeriod % c.Granularity
}
