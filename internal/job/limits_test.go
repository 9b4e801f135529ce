package job

import "testing"

func TestClampScalarAppliesMaxWhenZeroOrOverLimit(t *testing.T) {
	cases := []struct {
		value, max, want int64
	}{
		{value: 0, max: 1000, want: 1000},
		{value: -1, max: 1000, want: 1000},
		{value: 2000, max: 1000, want: 1000},
		{value: 500, max: 1000, want: 500},
		{value: 500, max: 0, want: 500},
	}
	for _, c := range cases {
		if got := clampScalar(c.value, c.max); got != c.want {
			t.Fatalf("clampScalar(%d, %d) = %d, want %d", c.value, c.max, got, c.want)
		}
	}
}

func TestMergeOverrideKeepsBaseWhenOverrideIsZero(t *testing.T) {
	base := LimitSet{TimeoutMs: 1000, CPUTimeMs: 500, MemoryBytes: 1 << 20}
	merged := mergeOverride(base, LimitSet{})
	if merged != base {
		t.Fatalf("got %+v, want base unchanged: %+v", merged, base)
	}
}

func TestMergeOverrideAppliesNonzeroFields(t *testing.T) {
	base := LimitSet{TimeoutMs: 1000, CPUTimeMs: 500, MemoryBytes: 1 << 20}
	merged := mergeOverride(base, LimitSet{TimeoutMs: 2000})
	if merged.TimeoutMs != 2000 || merged.CPUTimeMs != 500 || merged.MemoryBytes != 1<<20 {
		t.Fatalf("got %+v, want only TimeoutMs overridden", merged)
	}
}

func TestBytesToMBRoundsUpToAtLeastOne(t *testing.T) {
	if got := bytesToMB(1024); got != 1 {
		t.Fatalf("got %d, want 1 for a sub-MB byte count", got)
	}
	if got := bytesToMB(0); got != 0 {
		t.Fatalf("got %d, want 0 for a zero byte count", got)
	}
	if got := bytesToMB(3 * 1024 * 1024); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}
