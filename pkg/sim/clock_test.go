package sim

import "testing"

func TestApproximateRatioExactIntegers(t *testing.T) {
	r, err := ApproximateRatio(3.0)
	if err != nil {
		t.Fatalf("ApproximateRatio: %v", err)
	}
	if float64(r.N)/float64(r.D) != 3.0 {
		t.Errorf("ratio = %d/%d, want 3/1", r.N, r.D)
	}
}

func TestApproximateRatioCommonCPUDRAMRatio(t *testing.T) {
	// A typical CPU:DRAM-bus clock ratio, e.g. 2.4GHz CPU over a 800MHz
	// DRAM bus clock.
	const x = 2400.0 / 800.0
	r, err := ApproximateRatio(x)
	if err != nil {
		t.Fatalf("ApproximateRatio: %v", err)
	}
	got := float64(r.N) / float64(r.D)
	if diff := got - x; diff > 5e-5 || diff < -5e-5 {
		t.Errorf("ratio %d/%d = %v, want within 5e-5 of %v", r.N, r.D, got, x)
	}
}

func TestApproximateRatioRejectsNonPositive(t *testing.T) {
	if _, err := ApproximateRatio(0); err == nil {
		t.Error("expected an error for a zero ratio")
	}
	if _, err := ApproximateRatio(-1.5); err == nil {
		t.Error("expected an error for a negative ratio")
	}
}

func TestApproximateRatioNonInteger(t *testing.T) {
	r, err := ApproximateRatio(1.333333)
	if err != nil {
		t.Fatalf("ApproximateRatio: %v", err)
	}
	got := float64(r.N) / float64(r.D)
	if diff := got - 1.333333; diff > 5e-5 || diff < -5e-5 {
		t.Errorf("ratio %d/%d = %v, want within 5e-5 of 1.333333", r.N, r.D, got)
	}
}
