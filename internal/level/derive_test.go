package level

import (
	"testing"

	"github.com/fluentkids/phonotrail/internal/content"
)

func item(id string, tier int, typ content.Type) content.Item {
	return content.Item{
		ID:      id,
		Text:    "sss",
		Phoneme: "s",
		Tier:    tier,
		Type:    typ,
	}
}

func TestDerive_DurationsByType(t *testing.T) {
	tests := []struct {
		typ  content.Type
		want float64
	}{
		{content.TypeWord, 2},
		{content.TypePhrase, 4},
		{content.TypeSentence, 6},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			lv, err := Derive(item("a", 1, tt.typ))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if lv.TargetDuration != tt.want {
				t.Errorf("TargetDuration = %v, want %v", lv.TargetDuration, tt.want)
			}
		})
	}
}

func TestDerive_PausePolicyByTier(t *testing.T) {
	lv1, _ := Derive(item("a", 1, content.TypeWord))
	if lv1.AllowPauses {
		t.Error("tier 1 must not allow pauses")
	}
	lv2, _ := Derive(item("b", 2, content.TypeWord))
	if !lv2.AllowPauses {
		t.Error("tier 2 must allow pauses")
	}
	if lv2.MaxPauseDuration != 0.5 {
		t.Errorf("MaxPauseDuration = %v, want 0.5", lv2.MaxPauseDuration)
	}
}

func TestDerive_XPByTypeAndTier(t *testing.T) {
	tests := []struct {
		typ  content.Type
		tier int
		want int
	}{
		{content.TypeWord, 1, 10},
		{content.TypeWord, 2, 13}, // 10 × 1.25, rounded
		{content.TypePhrase, 1, 15},
		{content.TypeSentence, 3, 30}, // 20 × 1.5
	}
	for _, tt := range tests {
		lv, err := Derive(item("a", tt.tier, tt.typ))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lv.XPReward != tt.want {
			t.Errorf("XPReward(%s, tier %d) = %d, want %d", tt.typ, tt.tier, lv.XPReward, tt.want)
		}
	}
}

func TestDerive_Deterministic(t *testing.T) {
	it := item("a", 2, content.TypePhrase)
	a, err := Derive(it)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Derive(it)
	if a != b {
		t.Errorf("Derive not deterministic:\n a=%+v\n b=%+v", a, b)
	}
}

func TestDerive_RejectsBadItems(t *testing.T) {
	if _, err := Derive(item("a", 0, content.TypeWord)); err == nil {
		t.Error("expected error for tier 0")
	}
	if _, err := Derive(item("a", 1, "paragraph")); err == nil {
		t.Error("expected error for unknown type")
	}
}
