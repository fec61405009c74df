package engine

import (
	"context"
	"fmt"
	"log"
	"math"

	"spar-talk/server/internal/model"
	"spar-talk/server/internal/streak"
)

// XP 与结算用的手调参数表。保持原样，不要推导。
var (
	difficultyBaseXP = map[model.Difficulty]int{
		model.DifficultyEasy:      20,
		model.DifficultyNormal:    30,
		model.DifficultyHard:      45,
		model.DifficultyNightmare: 60,
	}
	modeXPMultiplier = map[model.Mode]float64{
		model.ModeStandard:  1.0,
		model.ModeTimeTrial: 1.1,
		model.ModeCloseIn2M: 1.2,
	}
	endReasonAdjust = map[model.EndReason]int{
		model.EndReasonClosed:  8,
		model.EndReasonAngry:   -20,
		model.EndReasonBored:   -15,
		model.EndReasonTimeout: -10,
	}
	// synthShift 无实测分时合成基础分的难度偏移（合成分落在 70-80）。
	synthShift = map[model.Difficulty]int{
		model.DifficultyEasy:      5,
		model.DifficultyNormal:    0,
		model.DifficultyHard:      -3,
		model.DifficultyNightmare: -5,
	}
)

const (
	synthBaseScore = 75
	minXP          = 5
	maxXP          = 200
	winThreshold   = 80
	lossThreshold  = 50
)

// Finalize 结算会话：基础分 → 情绪修正 → 结束原因修正 → 结局评级 → XP。
//
// 幂等：首次结算写入完整审计明细并把 comeback 奖励清零持久化；
// 之后的调用原样返回已存结果，奖励绝不二次发放。
// 未结束的会话结算后视为显式收尾，不再接受轮次。
func (e *Engine) Finalize(ctx context.Context, sessionID string, overrideScore *int) (*model.FinalizeBreakdown, error) {
	lock := e.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Finalize != nil {
		// 幂等 no-op：返回已存结果。
		bd := *sess.Finalize
		return &bd, nil
	}

	bd := e.computeFinalize(sess, overrideScore)

	finalScore := bd.FinalScore
	xp := bd.XPAwarded
	sess.FinalScore = &finalScore
	sess.XPAwarded = &xp
	sess.Outcome = bd.Outcome
	sess.Finalize = &bd
	// 奖励随本次结算消费，清零必须随结果一起落库。
	sess.Streak.XPBonusPending = 0
	sess.Streak.ComebackPending = false
	if !sess.Ended {
		sess.Ended = true
		sess.EndReason = model.EndReasonNone
	}

	if err := e.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save finalized session: %w", err)
	}

	e.appendEvent(ctx, sessionID, &model.Event{
		Type:     model.EventFinalizeResult,
		EventID:  sessionID + "_finalized",
		Finalize: &bd,
		Reason:   sess.EndReason,
		ServerTS: e.now(),
	})

	log.Printf("[Engine] session finalized: id=%s score=%d outcome=%s xp=%d", sessionID, bd.FinalScore, bd.Outcome, bd.XPAwarded)
	return &bd, nil
}

// computeFinalize 纯计算部分，便于独立测试。
func (e *Engine) computeFinalize(sess *model.SparringSession, overrideScore *int) model.FinalizeBreakdown {
	var bd model.FinalizeBreakdown

	// 1. 基础分：显式覆盖 > 实测均值 > 合成兜底（标记为 unmeasured）。
	switch {
	case overrideScore != nil:
		bd.BaseScore = model.ClampScore(*overrideScore)
		bd.BaseSource = "override"
	case sess.ScoredTurns > 0:
		bd.BaseScore = sess.AvgTurnScore
		bd.BaseSource = "measured"
	default:
		bd.BaseScore = model.ClampScore(synthBaseScore + synthShift[sess.Difficulty])
		bd.BaseSource = "unmeasured"
	}

	// 2. 情绪修正：三项独立叠加。
	if sess.Emotional.Trust >= 70 {
		bd.EmotionAdjust += 5
	}
	if sess.Emotional.Anger >= 70 {
		bd.EmotionAdjust -= 10
	}
	if sess.Emotional.Boredom >= 70 {
		bd.EmotionAdjust -= 8
	}

	// 3. 结束原因修正（仅已结束的会话）。
	if sess.Ended {
		bd.EndReasonAdjust = endReasonAdjust[sess.EndReason]
	}

	// 4. 终分与结局评级。
	bd.FinalScore = model.ClampScore(bd.BaseScore + bd.EmotionAdjust + bd.EndReasonAdjust)
	switch {
	case bd.FinalScore >= winThreshold:
		bd.Outcome = model.OutcomeWin
	case bd.FinalScore <= lossThreshold:
		bd.Outcome = model.OutcomeLoss
	default:
		bd.Outcome = model.OutcomeNeutral
	}

	// 5. 基础 XP。
	baseXP := float64(difficultyBaseXP[sess.Difficulty]) *
		(0.5 + float64(bd.FinalScore)/100) *
		modeXPMultiplier[sess.Mode]
	bd.BaseXP = int(math.Round(baseXP))
	if bd.BaseXP < minXP {
		bd.BaseXP = minXP
	}

	// 6. 倍率：连击倍率与全局旋钮各自独立取整。
	basis := sess.Streak.Streak
	if e.cfg.Streak.UseBestStreak {
		basis = sess.Streak.BestStreak
	}
	bd.StreakMultiplier = streak.Multiplier(basis, e.cfg.Streak.Threshold)
	bd.GlobalMultiplier = e.cfg.GlobalXPMultiplier

	xp := math.Round(math.Round(float64(bd.BaseXP)*bd.StreakMultiplier) * bd.GlobalMultiplier)

	// 7. comeback 奖励一次性计入，总额钳位 [0,200]。
	bd.ComebackBonus = sess.Streak.XPBonusPending
	total := int(xp) + bd.ComebackBonus
	if total > maxXP {
		total = maxXP
	}
	if total < 0 {
		total = 0
	}
	bd.XPAwarded = total

	return bd
}
