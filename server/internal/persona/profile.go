package persona

import (
	"spar-talk/server/internal/model"
)

// Reactivity 各情绪维度的人设反应系数。
// 1.0 表示中性；>1.0 表示该维度对刺激更敏感。
type Reactivity struct {
	Anger   float64 `yaml:"anger"`
	Boredom float64 `yaml:"boredom"`
	Trust   float64 `yaml:"trust"`
}

// Profile 人设行为画像：基线情绪、反应系数、疲劳点与挂断软上限。
//
// 所有数值都是手调参数，保持原样，不做推导；
// 想调整请改这里或通过配置覆盖，不要在决策逻辑里散落常量。
type Profile struct {
	Persona model.Persona `yaml:"persona"`

	// Baseline 情绪基线（normal 难度下），难度修正见 Baseline 方法。
	BaselineAnger   int `yaml:"baseline_anger"`
	BaselineBoredom int `yaml:"baseline_boredom"`
	BaselineTrust   int `yaml:"baseline_trust"`

	Reactivity Reactivity `yaml:"reactivity"`

	// FatiguePoint 超过该轮数后，每轮无聊漂移从 +1 变为 +2。
	FatiguePoint int `yaml:"fatigue_point"`

	// PriceTouchy 价格/ROI 话术是否会直接拉高愤怒（价格敏感型人设）。
	PriceTouchy bool `yaml:"price_touchy"`

	// SoftCeiling 该人设的基准耐心轮数，0 表示走通用兜底（快模式 14 / 其他 20）。
	SoftCeiling int `yaml:"soft_ceiling"`
}

// Table 只读的人设画像表。调用方持有并显式注入，
// 刷新策略由持有者决定，这里不做任何进程级缓存。
type Table struct {
	profiles map[model.Persona]Profile
}

// DefaultTable 返回内置画像表。
func DefaultTable() *Table {
	t := &Table{profiles: make(map[model.Persona]Profile)}
	for _, p := range builtinProfiles() {
		t.profiles[p.Persona] = p
	}
	return t
}

// Override 用外部配置覆盖（或新增）一个画像，用于运营调参。
func (t *Table) Override(p Profile) {
	t.profiles[p.Persona] = p
}

// Get 按人设取画像；未知人设回落为默认画像，绝不失败。
func (t *Table) Get(p model.Persona) Profile {
	if prof, ok := t.profiles[p]; ok {
		return prof
	}
	return t.profiles[model.PersonaDefault]
}

// Baseline 按难度返回初始情绪。难度越高，买家起点越有敌意。
func (t *Table) Baseline(p model.Persona, d model.Difficulty) model.EmotionalState {
	prof := t.Get(p)
	state := model.EmotionalState{
		Anger:   prof.BaselineAnger,
		Boredom: prof.BaselineBoredom,
		Trust:   prof.BaselineTrust,
	}
	switch d {
	case model.DifficultyEasy:
		state.Anger -= 5
		state.Trust += 5
	case model.DifficultyHard:
		state.Anger += 5
		state.Trust -= 5
	case model.DifficultyNightmare:
		state.Anger += 10
		state.Boredom += 5
		state.Trust -= 10
	}
	return state.Clamp()
}

// HostileScale 难度对敌意增量（愤怒+、无聊+、信任-）的放大系数。
func HostileScale(d model.Difficulty) float64 {
	switch d {
	case model.DifficultyEasy:
		return 0.8
	case model.DifficultyHard:
		return 1.2
	case model.DifficultyNightmare:
		return 1.4
	default:
		return 1.0
	}
}

// SoftCeiling 返回该人设×难度×模式下的挂断软上限轮数。
// 未配置人设走通用兜底：快模式 14 轮，其余 20 轮。
func (t *Table) SoftCeiling(p model.Persona, d model.Difficulty, m model.Mode) int {
	prof := t.Get(p)
	base := prof.SoftCeiling
	if base == 0 {
		if m.Fast() {
			return 14
		}
		return 20
	}

	switch d {
	case model.DifficultyHard:
		base -= 2
	case model.DifficultyNightmare:
		base -= 4
	}
	switch m {
	case model.ModeTimeTrial:
		base -= 3
	case model.ModeCloseIn2M:
		base -= 5
	}
	if base < 8 {
		base = 8
	}
	return base
}

// Description 返回喂给文本生成服务的人设口吻描述。
func (p Profile) Description() string {
	switch p.Persona {
	case model.PersonaAngry:
		return "You are an irritable, short-tempered buyer. You interrupt, you push back hard, and your patience is thin."
	case model.PersonaSilent:
		return "You are a quiet, reserved buyer. You answer briefly, volunteer nothing, and lose interest quickly."
	case model.PersonaPriceSensitive:
		return "You are a price-sensitive buyer. Every mention of cost makes you defensive; you need to see concrete value."
	case model.PersonaSkeptical:
		return "You are a skeptical buyer. You doubt claims, ask for proof, and trust is earned slowly."
	case model.PersonaFriendly:
		return "You are a friendly, open buyer. You engage warmly, but you still will not buy without a real reason."
	default:
		return "You are a busy but fair B2B buyer taking a cold call."
	}
}

// builtinProfiles 内置人设参数。数值均为手调，保持原样。
func builtinProfiles() []Profile {
	return []Profile{
		{
			Persona:         model.PersonaDefault,
			BaselineAnger:   20,
			BaselineBoredom: 10,
			BaselineTrust:   30,
			Reactivity:      Reactivity{Anger: 1.0, Boredom: 1.0, Trust: 1.0},
			FatiguePoint:    10,
			SoftCeiling:     0, // 通用兜底
		},
		{
			Persona:         model.PersonaAngry,
			BaselineAnger:   45,
			BaselineBoredom: 10,
			BaselineTrust:   20,
			Reactivity:      Reactivity{Anger: 1.5, Boredom: 1.0, Trust: 0.9},
			FatiguePoint:    8,
			SoftCeiling:     12,
		},
		{
			Persona:         model.PersonaSilent,
			BaselineAnger:   15,
			BaselineBoredom: 35,
			BaselineTrust:   25,
			Reactivity:      Reactivity{Anger: 1.0, Boredom: 1.5, Trust: 1.0},
			FatiguePoint:    6,
			SoftCeiling:     14,
		},
		{
			Persona:         model.PersonaPriceSensitive,
			BaselineAnger:   25,
			BaselineBoredom: 15,
			BaselineTrust:   25,
			Reactivity:      Reactivity{Anger: 1.2, Boredom: 1.0, Trust: 1.0},
			FatiguePoint:    10,
			PriceTouchy:     true,
			SoftCeiling:     18,
		},
		{
			Persona:         model.PersonaSkeptical,
			BaselineAnger:   25,
			BaselineBoredom: 20,
			BaselineTrust:   15,
			Reactivity:      Reactivity{Anger: 1.1, Boredom: 1.1, Trust: 0.8},
			FatiguePoint:    9,
			SoftCeiling:     16,
		},
		{
			Persona:         model.PersonaFriendly,
			BaselineAnger:   10,
			BaselineBoredom: 10,
			BaselineTrust:   45,
			Reactivity:      Reactivity{Anger: 0.8, Boredom: 0.9, Trust: 1.2},
			FatiguePoint:    12,
			SoftCeiling:     22,
		},
	}
}
