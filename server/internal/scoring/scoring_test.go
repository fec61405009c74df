package scoring

import (
	"reflect"
	"strings"
	"testing"
)

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// TestScoreTurnDiscoveryQuestion 验证预算提问被记为 discovery、不触发价格惩罚。
// 场景：纯提问、无价格/价值话术 ⇒ discovery=70、pitch=45、无 price_without_value。
func TestScoreTurnDiscoveryQuestion(t *testing.T) {
	rec := ScoreTurn("What budget have you allocated?", "We haven't decided yet.")

	if rec.Breakdown.Discovery != 70 {
		t.Fatalf("expected discovery 70, got %d", rec.Breakdown.Discovery)
	}
	if rec.Breakdown.Pitch != 45 {
		t.Fatalf("expected pitch 45, got %d", rec.Breakdown.Pitch)
	}
	if hasFlag(rec.Flags, FlagPriceWithoutValue) {
		t.Fatalf("unexpected price_without_value flag: %v", rec.Flags)
	}
}

// TestScoreTurnObjectionHandledWell 验证共情+价值+数字的异议处理。
// 场景：买家嫌贵，代表共情并用 ROI 回应 ⇒ objections=70、pitch 含 +5 数字加成、
// 点评为“肯定 ROI 处理”。
func TestScoreTurnObjectionHandledWell(t *testing.T) {
	rec := ScoreTurn(
		"I hear you, and the ROI in 3 months pays for itself",
		"That's too expensive",
	)

	if rec.Breakdown.Objections != 70 {
		t.Fatalf("expected objections 70, got %d", rec.Breakdown.Objections)
	}
	if rec.Breakdown.Pitch != 70 {
		t.Fatalf("expected pitch 70 (65 + digit bonus), got %d", rec.Breakdown.Pitch)
	}
	if len(rec.Flags) != 0 {
		t.Fatalf("expected no flags, got %v", rec.Flags)
	}
	if !strings.Contains(rec.CoachNote, "ROI") {
		t.Fatalf("expected ROI-affirming coach note, got %q", rec.CoachNote)
	}
}

// TestScoreTurnTooShort 验证过短话术的惩罚与标志。
func TestScoreTurnTooShort(t *testing.T) {
	rec := ScoreTurn("Hi.", "Hello?")

	if !hasFlag(rec.Flags, FlagTooShort) {
		t.Fatalf("expected too_short flag, got %v", rec.Flags)
	}
	if rec.Breakdown.Discovery != 35 {
		t.Fatalf("expected discovery 35 (45-10), got %d", rec.Breakdown.Discovery)
	}
	if rec.Breakdown.Pitch != 35 {
		t.Fatalf("expected pitch 35 (45-10), got %d", rec.Breakdown.Pitch)
	}
}

// TestScoreTurnTooShortCountsRunes 验证长度门槛按字符数而非字节数判定。
// 场景：6 个汉字（18 字节）仍算过短；10 个字符的话术不被标记。
func TestScoreTurnTooShortCountsRunes(t *testing.T) {
	rec := ScoreTurn("你好，在吗？", "Hello?")
	if !hasFlag(rec.Flags, FlagTooShort) {
		t.Fatalf("expected too_short for a 6-rune utterance, got %v", rec.Flags)
	}

	rec = ScoreTurn("我们能帮你省下成本。", "Go on.")
	if hasFlag(rec.Flags, FlagTooShort) {
		t.Fatalf("unexpected too_short for a 10-rune utterance, got %v", rec.Flags)
	}
}

// TestScoreTurnPriceWithoutValue 验证只谈价格不谈价值的惩罚。
func TestScoreTurnPriceWithoutValue(t *testing.T) {
	rec := ScoreTurn("Our price is very competitive right now.", "Go on.")

	if !hasFlag(rec.Flags, FlagPriceWithoutValue) {
		t.Fatalf("expected price_without_value flag, got %v", rec.Flags)
	}
	if rec.Breakdown.Pitch != 35 {
		t.Fatalf("expected pitch 35 (45-10), got %d", rec.Breakdown.Pitch)
	}
}

// TestScoreTurnMissedPriceObjection 验证漏接价格异议的惩罚。
// 场景：买家嫌贵，代表既没提价格也没讲价值 ⇒ objections=50-15=35。
func TestScoreTurnMissedPriceObjection(t *testing.T) {
	rec := ScoreTurn("We work with many companies like yours.", "That's too expensive for us.")

	if !hasFlag(rec.Flags, FlagMissedPriceObjection) {
		t.Fatalf("expected missed_price_objection flag, got %v", rec.Flags)
	}
	if rec.Breakdown.Objections != 35 {
		t.Fatalf("expected objections 35 (50-15), got %d", rec.Breakdown.Objections)
	}
}

// TestScoreTurnStallNotAddressed 验证对买家拖延无动作的惩罚。
// 场景：买家拖延，代表既不提问也不推进 ⇒ objections=50-10=40。
func TestScoreTurnStallNotAddressed(t *testing.T) {
	rec := ScoreTurn("We are the market leader in this space.", "I need to think about it.")

	if !hasFlag(rec.Flags, FlagStallNotAddressed) {
		t.Fatalf("expected stall_not_addressed flag, got %v", rec.Flags)
	}
	if rec.Breakdown.Objections != 40 {
		t.Fatalf("expected objections 40 (50-10), got %d", rec.Breakdown.Objections)
	}
}

// TestScoreTurnDeterministic 验证相同输入得到逐位相同的输出。
func TestScoreTurnDeterministic(t *testing.T) {
	a := ScoreTurn("What would a 20% saving mean for your team?", "Honestly, budget is tight.")
	b := ScoreTurn("What would a 20% saving mean for your team?", "Honestly, budget is tight.")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical records, got %+v vs %+v", a, b)
	}
}

// TestScoreTurnRanges 验证总分与各维度始终落在 [0,100]。
func TestScoreTurnRanges(t *testing.T) {
	reps := []string{
		"Hi.",
		"Our price is low.",
		"What budget have you allocated?",
		"I hear you — the ROI in 3 months pays for itself, shall we book a trial?",
		"Sign today, last chance, special offer, discount deal!",
	}
	buyers := []string{
		"",
		"That's too expensive.",
		"I need to think about it and talk to my boss.",
		"Interesting, tell me more.",
	}

	for _, rep := range reps {
		for _, buyer := range buyers {
			rec := ScoreTurn(rep, buyer)
			cats := []int{
				rec.TurnScore,
				rec.Breakdown.Opener, rec.Breakdown.Discovery, rec.Breakdown.Pitch,
				rec.Breakdown.Objections, rec.Breakdown.Close,
			}
			for _, v := range cats {
				if v < 0 || v > 100 {
					t.Fatalf("value out of range for rep=%q buyer=%q: %+v", rep, buyer, rec)
				}
			}
		}
	}
}

// TestScoreTurnWeightedTotal 验证总分是五维的加权四舍五入。
func TestScoreTurnWeightedTotal(t *testing.T) {
	rec := ScoreTurn("What budget have you allocated?", "We haven't decided yet.")

	// opener 50, discovery 70, pitch 45, objections 55, close 40
	// 50*.10 + 70*.25 + 45*.25 + 55*.25 + 40*.15 = 53.5 → 54
	if rec.TurnScore != 54 {
		t.Fatalf("expected turn score 54, got %d", rec.TurnScore)
	}
}

// TestCoachNotePriorities 验证教练点评的优先级链。
func TestCoachNotePriorities(t *testing.T) {
	// 异议处理失误优先于“没有提问”。
	rec := ScoreTurn("We are simply the best option.", "That's too expensive.")
	if !strings.Contains(rec.CoachNote, "pushed back") {
		t.Fatalf("expected mishandled-objection note, got %q", rec.CoachNote)
	}

	// 无异议且没提问 → 引导提问。
	rec = ScoreTurn("We are simply the best option.", "Okay.")
	if !strings.Contains(rec.CoachNote, "questions") {
		t.Fatalf("expected ask-questions note, got %q", rec.CoachNote)
	}

	// 提问 + 收尾话术且无异议 → 收尾点评。
	rec = ScoreTurn("Shall we book a trial for next week?", "Okay.")
	if !strings.Contains(rec.CoachNote, "close") {
		t.Fatalf("expected closing note, got %q", rec.CoachNote)
	}

	// 提问但无收尾 → 通用点评。
	rec = ScoreTurn("How does your team handle this today?", "Okay.")
	if !strings.Contains(rec.CoachNote, "Solid turn") {
		t.Fatalf("expected generic note, got %q", rec.CoachNote)
	}
}
