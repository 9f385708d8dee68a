package idhash

import "testing"

func TestComputeSwapID(t *testing.T) {
	got := ComputeSwapID("listing-1", "alice", "25.5", 1704067200000)

	if len(got) != 64 {
		t.Errorf("ComputeSwapID() length = %d, want 64", len(got))
	}

	got2 := ComputeSwapID("listing-1", "alice", "25.5", 1704067200000)
	if got != got2 {
		t.Errorf("ComputeSwapID() not deterministic: %s != %s", got, got2)
	}
}

func TestComputeSwapID_DifferentInputs(t *testing.T) {
	base := ComputeSwapID("listing-1", "alice", "25.5", 1000)

	diffListing := ComputeSwapID("listing-2", "alice", "25.5", 1000)
	if base == diffListing {
		t.Error("Different listing should produce different hash")
	}

	diffInitiator := ComputeSwapID("listing-1", "bob", "25.5", 1000)
	if base == diffInitiator {
		t.Error("Different initiator should produce different hash")
	}

	diffVolume := ComputeSwapID("listing-1", "alice", "25.50", 1000)
	if base == diffVolume {
		t.Error("Different volume string should produce different hash")
	}

	diffTime := ComputeSwapID("listing-1", "alice", "25.5", 1001)
	if base == diffTime {
		t.Error("Different proposed_at should produce different hash")
	}
}
