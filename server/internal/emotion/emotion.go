package emotion

import (
	"math"
	"strings"

	"spar-talk/server/internal/model"
	"spar-talk/server/internal/persona"
)

// 词法触发器的固定增量。全部为手调参数，保持原样。
var (
	priceWords = []string{"price", "pricing", "cost", "expensive", "$", "roi"}
	thanksWords = []string{
		"thank", "appreciate", "i hear you", "understand", "fair point", "good point",
	}
	stallWords = []string{
		"think about it", "circle back", "get back to you", "touch base", "follow up later",
	}
	pressureWords = []string{
		"sign today", "last chance", "act now", "limited time", "only today",
	}
	salesWords = []string{"discount", "deal", "special offer", "promotion"}
)

// Step 情绪状态的单轮纯函数演化：
//
//	next = Step(prev, profile, difficulty, turnsSoFar, repText)
//
// 规则：
//  1. 基础漂移：无聊每轮 +1，超过人设疲劳点后每轮 +2。
//  2. 词法触发：价格/ROI（仅价格敏感人设）、感谢、拖延、高压、提问、推销词。
//  3. 所有增量先按人设反应系数缩放，敌意方向的增量再按难度放大。
//  4. 各维度最终钳位到 [0,100]。
//
// 函数纯且确定：相同输入必然得到相同输出，不读任何外部状态。
func Step(prev model.EmotionalState, prof persona.Profile, difficulty model.Difficulty, turnsSoFar int, repText string) model.EmotionalState {
	var anger, boredom, trust float64

	// 基础漂移：对话拖得越久买家越无聊。
	drift := 1.0
	if turnsSoFar > prof.FatiguePoint {
		drift = 2.0
	}
	boredom += drift

	text := strings.ToLower(repText)

	if prof.PriceTouchy && containsAny(text, priceWords) {
		anger += 5
	}
	if containsAny(text, thanksWords) {
		trust += 4
		anger -= 3
	}
	if containsAny(text, stallWords) {
		boredom += 5
		trust -= 3
	}
	if containsAny(text, pressureWords) {
		anger += 6
		trust -= 4
	}
	if strings.Contains(text, "?") {
		trust += 2
		boredom -= 2
	}
	if containsAny(text, salesWords) {
		trust -= 2
		anger += 1
	}

	scale := persona.HostileScale(difficulty)
	next := model.EmotionalState{
		Anger:   prev.Anger + scaled(anger, prof.Reactivity.Anger, scale, true),
		Boredom: prev.Boredom + scaled(boredom, prof.Reactivity.Boredom, scale, true),
		Trust:   prev.Trust + scaled(trust, prof.Reactivity.Trust, scale, false),
	}
	return next.Clamp()
}

// scaled 把原始增量换算成整数增量。
// 反应系数总是生效；难度放大只作用于敌意方向
// （愤怒/无聊的上升、信任的下降）。
func scaled(delta, reactivity, hostileScale float64, positiveIsHostile bool) int {
	if delta == 0 {
		return 0
	}
	v := delta * reactivity
	hostile := (delta > 0) == positiveIsHostile
	if hostile {
		v *= hostileScale
	}
	return int(math.Round(v))
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
