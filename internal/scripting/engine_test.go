package scripting

import (
	"testing"

	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestHomunExpForLevel(t *testing.T) {
	e := newTestEngine(t)
	if err := e.DoString(`
		function homun_exp_for_level(level)
			if level <= 1 then return 0 end
			return 100 * (level - 1)
		end
	`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if got := e.HomunExpForLevel(1); got != 0 {
		t.Errorf("level 1 = %d, want 0", got)
	}
	if got := e.HomunExpForLevel(5); got != 400 {
		t.Errorf("level 5 = %d, want 400", got)
	}
}

func TestCalcFeedEffectBands(t *testing.T) {
	e := newTestEngine(t)
	if err := e.DoString(`
		function calc_feed_effect(hunger)
			if hunger >= 91 then
				return { intimacy_delta = -5000, hunger_delta = 10, overfeed = true }
			end
			return { intimacy_delta = 7500, hunger_delta = 10 }
		end
	`); err != nil {
		t.Fatalf("DoString: %v", err)
	}

	eff := e.CalcFeedEffect(95)
	if !eff.Overfeed || eff.IntimacyDelta != -5000 {
		t.Errorf("overfed: %+v", eff)
	}
	eff = e.CalcFeedEffect(50)
	if eff.Overfeed || eff.IntimacyDelta != 7500 || eff.HungerDelta != 10 {
		t.Errorf("normal feed: %+v", eff)
	}
}

func TestMissingFunctionFallsBack(t *testing.T) {
	e := newTestEngine(t)
	eff := e.CalcFeedEffect(50)
	if eff.IntimacyDelta == 0 {
		t.Error("fallback feed effect should be non-zero")
	}
	if got := e.CalcStarvationDrain(1000); got != 100 {
		t.Errorf("fallback drain = %d, want 100", got)
	}
}

func TestMercExpForKill(t *testing.T) {
	e := newTestEngine(t)
	if err := e.DoString(`
		function merc_exp_for_kill(merc_level, target_level)
			return 10 + target_level - merc_level
		end
	`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if got := e.MercExpForKill(10, 15); got != 15 {
		t.Errorf("exp = %d, want 15", got)
	}
}
