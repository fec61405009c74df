package hangup

import (
	"spar-talk/server/internal/model"
	"spar-talk/server/internal/persona"
)

// Decision 挂断裁决结果。
type Decision struct {
	End    bool
	Reason model.EndReason
}

// 硬规则阈值。顺序敏感：见 Decide 的优先级说明。
const (
	angerThreshold   = 85
	angerMinTurns    = 6
	boredomThreshold = 85
	boredomMinTurns  = 8
	trustThreshold   = 75
	trustMinTurns    = 10
	absoluteCeiling  = 24
)

// Decide 判定买家是否在本轮结束通话。
//
// 规则按严格优先级求值，先命中先生效：
//  1. 愤怒 ≥85 且 ≥6 轮 → angry
//  2. 无聊 ≥85 且 ≥8 轮 → bored
//  3. 信任 ≥75 且 ≥10 轮 → closed（正向结局，买家被说服）
//  4. ≥24 轮 → timeout（绝对上限，任何人设都逃不过）
//  5. 人设×难度×模式的软上限 → timeout
//  6. 继续对话
//
// 注意：传入的 state 必须是本轮情绪演化之后的状态。
// 调用方应通过 engine.Advance 保证这点，而不是自行拼接两步。
func Decide(table *persona.Table, p model.Persona, d model.Difficulty, m model.Mode, turns int, state model.EmotionalState) Decision {
	if state.Anger >= angerThreshold && turns >= angerMinTurns {
		return Decision{End: true, Reason: model.EndReasonAngry}
	}
	if state.Boredom >= boredomThreshold && turns >= boredomMinTurns {
		return Decision{End: true, Reason: model.EndReasonBored}
	}
	if state.Trust >= trustThreshold && turns >= trustMinTurns {
		return Decision{End: true, Reason: model.EndReasonClosed}
	}
	if turns >= absoluteCeiling {
		return Decision{End: true, Reason: model.EndReasonTimeout}
	}
	if turns >= table.SoftCeiling(p, d, m) {
		return Decision{End: true, Reason: model.EndReasonTimeout}
	}
	return Decision{End: false, Reason: model.EndReasonNone}
}

// scriptedLines 挂断时的固定台词，按原因取用。
// 买家挂断时不会再调用文本生成，必须用这里的台词收尾。
var scriptedLines = map[model.EndReason]string{
	model.EndReasonAngry:   "You know what, I don't have time for this. Don't call me again.",
	model.EndReasonBored:   "Look, I've got another meeting. Just send me an email, okay? Bye.",
	model.EndReasonClosed:  "Alright, you've convinced me. Send over the paperwork and let's get started.",
	model.EndReasonTimeout: "I really have to run. Let's pick this up some other time.",
}

// ScriptedLine 返回该结束原因对应的固定台词。
func ScriptedLine(reason model.EndReason) string {
	if line, ok := scriptedLines[reason]; ok {
		return line
	}
	return scriptedLines[model.EndReasonTimeout]
}
