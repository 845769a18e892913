package mapping

import (
	"testing"

	"github.com/pkg/errors"
)

func TestLinearRoundTrip(t *testing.T) {
	configs := []struct{ machines, procs int }{
		{1, 1},
		{1, 8},
		{3, 4},
		{5, 2},
	}

	for _, c := range configs {
		m := NewLinear(c.machines, c.procs)

		if m.NProcs() != c.machines*c.procs {
			t.Fatalf("NProcs: got %d, want %d", m.NProcs(), c.machines*c.procs)
		}

		seen := map[int]bool{}
		for mid := 0; mid < c.machines; mid++ {
			for r := 0; r < c.procs; r++ {
				uid, err := m.GetUID(r, mid)
				if err != nil {
					t.Fatalf("GetUID(%d,%d): %v", r, mid, err)
				}
				if seen[uid] {
					t.Fatalf("uid %d assigned twice", uid)
				}
				seen[uid] = true

				gr, gm, err := m.GetRankMachine(uid)
				if err != nil {
					t.Fatalf("GetRankMachine(%d): %v", uid, err)
				}
				if gr != r || gm != mid {
					t.Fatalf("round trip of (%d,%d): got (%d,%d)", r, mid, gr, gm)
				}
			}
		}

		if len(seen) != m.NProcs() {
			t.Fatalf("mapping not total: %d uids for %d procs", len(seen), m.NProcs())
		}
	}
}

func TestLinearInvalidIdentity(t *testing.T) {
	m := NewLinear(2, 3)

	if _, err := m.GetUID(3, 0); errors.Cause(err) != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity for bad rank, got %v", err)
	}
	if _, err := m.GetUID(0, 2); errors.Cause(err) != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity for bad machine, got %v", err)
	}
	if _, err := m.GetUID(-1, 0); errors.Cause(err) != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity for negative rank, got %v", err)
	}
	if _, _, err := m.GetRankMachine(6); errors.Cause(err) != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity for bad uid, got %v", err)
	}
	if _, _, err := m.GetRankMachine(-1); errors.Cause(err) != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity for negative uid, got %v", err)
	}
}
