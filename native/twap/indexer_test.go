package twap

import "testing"

func TestObservationIndexOfBoundedAndPeriodic(t *testing.T) {
	cfg := Config{WindowSize: 86400, Granularity: 24}
	for ts := uint64(0); ts < 3*cfg.WindowSize; ts += 97 {
		idx := cfg.ObservationIndexOf(ts)
		if idx >= cfg.Granularity {
			t.Fatalf("index %d out of range for ts %d", idx, ts)
		}
		if wrapped := cfg.ObservationIndexOf(ts + cfg.WindowSize); wrapped != idx {
			t.Fatalf("index not periodic at %d: %d vs %d", ts, idx, wrapped)
		}
	}
}

func TestObservationIndexOfSharesSlotWithinEpoch(t *testing.T) {
	cfg := Config{WindowSize: 86400, Granularity: 24}
	if cfg.ObservationIndexOf(3600) != cfg.ObservationIndexOf(7199) {
		t.Fatalf("timestamps in one epoch should share a slot")
	}
	if cfg.ObservationIndexOf(7199) == cfg.ObservationIndexOf(7200) {
		t.Fatalf("epoch boundary should move to the next slot")
	}
	if got := cfg.ObservationIndexOf(86400 + 1); got != 0 {
		t.Fatalf("expected slot 0 after one full window, got %d", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "valid", cfg: Config{WindowSize: 86400, Granularity: 24}, ok: true},
		{name: "granularity one", cfg: Config{WindowSize: 86400, Granularity: 1}},
		{name: "granularity zero", cfg: Config{WindowSize: 86400}},
		{name: "uneven", cfg: Config{WindowSize: 86400, Granularity: 7}},
		{name: "zero window", cfg: Config{Granularity: 2}},
		{name: "full incentive", cfg: Config{WindowSize: 10, Granularity: 2, PercentIncentivePerCall: OneHundredPercent}, ok: true},
		{name: "excessive incentive", cfg: Config{WindowSize: 10, Granularity: 2, PercentIncentivePerCall: uintFromDec("1000000000000000001")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected configuration error")
			}
		})
	}
}
