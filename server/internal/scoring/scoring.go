package scoring

import (
	"math"
	"strings"
	"unicode/utf8"

	"spar-talk/server/internal/model"
)

// 信号词表。全部小写匹配；均为手调参数，保持原样。
//
// 注意 repPriceWords 有意不含 "budget"：询问对方预算属于 discovery
// 提问，不应触发 price_without_value 惩罚。
var (
	repPriceWords = []string{"price", "pricing", "cost", "expensive", "$", "roi"}
	valueWords    = []string{
		"save", "saving", "roi", "payback", "revenue", "value", "return", "profit", "efficiency",
	}
	closingWords = []string{
		"next step", "book", "trial", "move forward", "schedule", "sign up", "get started", "contract",
	}
	empathyWords = []string{
		"i hear you", "understand", "i get", "makes sense", "fair", "appreciate", "totally",
	}
	buyerPriceObjectionWords = []string{
		"too expensive", "price", "can't afford", "cost", "budget", "cheaper", "no money",
	}
	buyerStallWords = []string{
		"think about it", "not sure", "maybe later", "circle back", "get back to", "need time", "talk to my",
	}
)

// 惩罚标志。
const (
	FlagTooShort             = "too_short"
	FlagPriceWithoutValue    = "price_without_value"
	FlagMissedPriceObjection = "missed_price_objection"
	FlagStallNotAddressed    = "stall_not_addressed"
)

// signals 一轮对话中抽取出的全部启发式信号。
type signals struct {
	asksQuestion  bool
	hasDigit      bool
	mentionsPrice bool
	usesValue     bool
	usesClosing   bool
	usesEmpathy   bool

	buyerPriceObjection bool
	buyerStall          bool
}

// ScoreTurn 对销售代表的一轮话术做启发式微评分。
//
// 纯函数、确定性、无副作用：相同输入得到逐位相同的输出。
// 每个维度先取基础分，再叠加惩罚，最后钳位到 [0,100]；
// 总分是五维加权（10/25/25/25/15）后的四舍五入。
func ScoreTurn(repText, buyerText string) model.MicroScoreRecord {
	sig := extract(repText, buyerText)

	breakdown := model.ScoreBreakdown{
		Opener:     50,
		Discovery:  45,
		Pitch:      45,
		Objections: 55,
		Close:      40,
	}
	if sig.asksQuestion {
		breakdown.Discovery = 70
	}
	if sig.usesValue {
		breakdown.Pitch = 65
	}
	if sig.hasDigit {
		breakdown.Pitch += 5
	}
	if sig.buyerPriceObjection || sig.buyerStall {
		if sig.usesEmpathy {
			breakdown.Objections = 70
		} else {
			breakdown.Objections = 50
		}
	}
	if sig.usesClosing {
		breakdown.Close = 70
	}

	var flags []string
	// 按字符数而不是字节数判定，多字节话术不应被放行。
	if utf8.RuneCountInString(repText) < 10 {
		flags = append(flags, FlagTooShort)
		breakdown.Discovery -= 10
		breakdown.Pitch -= 10
	}
	if sig.mentionsPrice && !sig.usesValue {
		flags = append(flags, FlagPriceWithoutValue)
		breakdown.Pitch -= 10
	}
	if sig.buyerPriceObjection && !sig.mentionsPrice && !sig.usesValue {
		flags = append(flags, FlagMissedPriceObjection)
		breakdown.Objections -= 15
	}
	if sig.buyerStall && !sig.asksQuestion && !sig.usesClosing {
		flags = append(flags, FlagStallNotAddressed)
		breakdown.Objections -= 10
	}

	breakdown.Opener = model.ClampScore(breakdown.Opener)
	breakdown.Discovery = model.ClampScore(breakdown.Discovery)
	breakdown.Pitch = model.ClampScore(breakdown.Pitch)
	breakdown.Objections = model.ClampScore(breakdown.Objections)
	breakdown.Close = model.ClampScore(breakdown.Close)

	total := 0.10*float64(breakdown.Opener) +
		0.25*float64(breakdown.Discovery) +
		0.25*float64(breakdown.Pitch) +
		0.25*float64(breakdown.Objections) +
		0.15*float64(breakdown.Close)

	return model.MicroScoreRecord{
		TurnScore: model.ClampScore(int(math.Round(total))),
		Breakdown: breakdown,
		CoachNote: coachNote(sig),
		Flags:     flags,
	}
}

// extract 从双方文本中抽取信号。
func extract(repText, buyerText string) signals {
	rep := strings.ToLower(repText)
	buyer := strings.ToLower(buyerText)

	return signals{
		asksQuestion:  strings.Contains(rep, "?"),
		hasDigit:      strings.ContainsAny(rep, "0123456789"),
		mentionsPrice: containsAny(rep, repPriceWords),
		usesValue:     containsAny(rep, valueWords),
		usesClosing:   containsAny(rep, closingWords),
		usesEmpathy:   containsAny(rep, empathyWords),

		buyerPriceObjection: containsAny(buyer, buyerPriceObjectionWords),
		buyerStall:          containsAny(buyer, buyerStallWords),
	}
}

// coachNote 按优先级挑一条教练点评：
// 异议处理得当 > 异议处理失误 > 没有提问 > 收尾出色 > 通用。
func coachNote(sig signals) string {
	handledPrice := sig.buyerPriceObjection && sig.usesEmpathy
	handledStall := sig.buyerStall && (sig.asksQuestion || sig.usesClosing)

	switch {
	case handledPrice || handledStall:
		return "Nice — you acknowledged the objection and anchored it back to ROI."
	case sig.buyerPriceObjection || sig.buyerStall:
		return "The buyer pushed back — acknowledge it first, then reframe the value."
	case !sig.asksQuestion:
		return "Ask more questions — discovery is how you find the real pain."
	case sig.usesClosing:
		return "Strong close — you asked for a concrete next step."
	default:
		return "Solid turn. Keep steering the conversation toward value."
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
