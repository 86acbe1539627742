package buildinfo

import "testing"

func TestString(t *testing.T) {
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })

	Version, Commit, Date = "v1.0.0", "abc1234", ""
	if got := String(); got != "v1.0.0 (abc1234)" {
		t.Fatalf("String() = %q", got)
	}
	Date = "2026-10-01T12:00:00Z"
	if got := String(); got != "v1.0.0 (abc1234, 2026-10-01T12:00:00Z)" {
		t.Fatalf("String() = %q", got)
	}
}
