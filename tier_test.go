package tierlimit

import (
	"errors"
	"testing"
)

func TestTier_IsValid(t *testing.T) {
	for _, tier := range allTiers {
		if !tier.IsValid() {
			t.Errorf("tier %q should be valid", tier)
		}
	}

	for _, s := range []string{"", "gold", "DEFAULT", "admin "} {
		if Tier(s).IsValid() {
			t.Errorf("tier %q should be invalid", s)
		}
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("premium")
	if err != nil {
		t.Fatalf("ParseTier failed: %v", err)
	}
	if tier != TierPremium {
		t.Errorf("expected %q, got %q", TierPremium, tier)
	}

	_, err = ParseTier("platinum")
	if !errors.Is(err, ErrInvalidTier) {
		t.Errorf("expected ErrInvalidTier, got %v", err)
	}
}
