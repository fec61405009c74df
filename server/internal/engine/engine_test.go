package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"spar-talk/server/internal/config"
	"spar-talk/server/internal/hangup"
	"spar-talk/server/internal/llm"
	"spar-talk/server/internal/model"
	"spar-talk/server/internal/session"
	"spar-talk/server/internal/timeline"
)

func newTestEngine(mock *llm.MockClient) (*Engine, session.Store, timeline.Store) {
	store := session.NewInMemoryStore()
	tl := timeline.NewInMemoryStore()
	eng := New(store, tl, mock, nil, config.EngineConfig{ReplyTimeout: time.Second}, nil, nil)
	return eng, store, tl
}

// TestStartSessionSeedsBaseline 验证开局按人设×难度播种情绪基线。
// 场景：angry × normal → {45,10,20}，连击元数据全零，并落 session_started 事件。
func TestStartSessionSeedsBaseline(t *testing.T) {
	eng, _, tl := newTestEngine(&llm.MockClient{})
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, StartParams{
		RepID:      "rep_1",
		Persona:    "angry",
		Difficulty: "normal",
		Mode:       "standard",
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	want := model.EmotionalState{Anger: 45, Boredom: 10, Trust: 20}
	if sess.Emotional != want {
		t.Fatalf("expected baseline %+v, got %+v", want, sess.Emotional)
	}
	if sess.TurnCount != 0 || sess.Streak.Streak != 0 || sess.Streak.BestStreak != 0 {
		t.Fatalf("expected zeroed counters, got %+v", sess)
	}
	if sess.Ended {
		t.Fatalf("new session must not be ended")
	}

	events, err := tl.List(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != model.EventSessionStarted {
		t.Fatalf("expected single session_started event, got %+v", events)
	}
}

// TestStartSessionUnknownPersonaFallsBack 验证未知人设兜底到默认画像而非报错。
func TestStartSessionUnknownPersonaFallsBack(t *testing.T) {
	eng, _, _ := newTestEngine(&llm.MockClient{})

	sess, err := eng.StartSession(context.Background(), StartParams{
		Persona:    "alien_overlord",
		Difficulty: "normal",
		Mode:       "standard",
	})
	if err != nil {
		t.Fatalf("unknown persona must not fail: %v", err)
	}
	if sess.Persona != model.PersonaDefault {
		t.Fatalf("expected default persona, got %s", sess.Persona)
	}
	want := model.EmotionalState{Anger: 20, Boredom: 10, Trust: 30}
	if sess.Emotional != want {
		t.Fatalf("expected default baseline %+v, got %+v", want, sess.Emotional)
	}
}

// TestStartSessionRejectsUnknownDials 验证难度/模式严格校验。
func TestStartSessionRejectsUnknownDials(t *testing.T) {
	eng, _, _ := newTestEngine(&llm.MockClient{})
	ctx := context.Background()

	if _, err := eng.StartSession(ctx, StartParams{Difficulty: "ultra", Mode: "standard"}); err == nil {
		t.Fatalf("expected error for unknown difficulty")
	}
	if _, err := eng.StartSession(ctx, StartParams{Difficulty: "normal", Mode: "speedrun"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

// TestSubmitTurnEmptyRejected 验证空白话术被拒且不产生任何状态变更。
func TestSubmitTurnEmptyRejected(t *testing.T) {
	eng, _, tl := newTestEngine(&llm.MockClient{})
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, StartParams{Persona: "friendly", Difficulty: "easy", Mode: "standard"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if _, err := eng.SubmitTurn(ctx, sess.SessionID, "   \t  "); !errors.Is(err, ErrEmptyTurnText) {
		t.Fatalf("expected ErrEmptyTurnText, got %v", err)
	}

	after, err := eng.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if after.TurnCount != 0 || after.ScoredTurns != 0 {
		t.Fatalf("rejected turn must not mutate session, got %+v", after)
	}
	events, _ := tl.List(ctx, sess.SessionID)
	if len(events) != 1 {
		t.Fatalf("rejected turn must not append events, got %d", len(events))
	}
}

// TestSubmitTurnScoresAndPersists 验证正常轮次的完整链路：
// 台词生成 → 微评分 → 连击更新 → 落库，时间线按序留痕。
func TestSubmitTurnScoresAndPersists(t *testing.T) {
	mock := &llm.MockClient{Reply: "That's too expensive for us."}
	eng, _, tl := newTestEngine(mock)
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, StartParams{Persona: "friendly", Difficulty: "normal", Mode: "standard"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	repText := "I hear you, and the ROI in 3 months pays for itself"
	result, err := eng.SubmitTurn(ctx, sess.SessionID, repText)
	if err != nil {
		t.Fatalf("SubmitTurn failed: %v", err)
	}

	if result.Ended {
		t.Fatalf("session must not end on turn 1, got %+v", result)
	}
	if result.BuyerReply != mock.Reply {
		t.Fatalf("expected mock reply, got %q", result.BuyerReply)
	}
	if result.MicroScore == nil {
		t.Fatalf("expected a micro score on a continuing turn")
	}
	if mock.CallCount != 1 {
		t.Fatalf("expected exactly one generation call, got %d", mock.CallCount)
	}
	if len(mock.LastMessages) == 0 || mock.LastMessages[0].Role != "system" {
		t.Fatalf("prompt must lead with the persona system message, got %+v", mock.LastMessages)
	}
	if mock.LastMessages[len(mock.LastMessages)-1].Content != repText {
		t.Fatalf("prompt must end with the current rep line, got %+v", mock.LastMessages)
	}

	after, err := eng.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if after.TurnCount != 1 || after.ScoredTurns != 1 {
		t.Fatalf("expected one scored turn, got %+v", after)
	}
	if after.AvgTurnScore != result.MicroScore.TurnScore {
		t.Fatalf("single-turn average must equal the turn score: avg=%d score=%d", after.AvgTurnScore, result.MicroScore.TurnScore)
	}
	if after.Streak.LastTurnScoreRaw != result.MicroScore.TurnScore {
		t.Fatalf("streak must record the raw turn score, got %+v", after.Streak)
	}

	events, _ := tl.List(ctx, sess.SessionID)
	wantTypes := []string{model.EventSessionStarted, model.EventRepTurn, model.EventBuyerTurn, model.EventMicroScore}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantTypes), len(events), events)
	}
	for i, typ := range wantTypes {
		if events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
}

// TestSubmitTurnLLMFailureFallsBack 验证台词生成失败只降级不报错：
// 固定兜底台词收场，该轮照常评分计数。
func TestSubmitTurnLLMFailureFallsBack(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("upstream 500")}
	eng, _, _ := newTestEngine(mock)
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, StartParams{Persona: "friendly", Difficulty: "normal", Mode: "standard"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	result, err := eng.SubmitTurn(ctx, sess.SessionID, "How does your team handle this today?")
	if err != nil {
		t.Fatalf("generation failure must not fail the turn: %v", err)
	}
	if result.BuyerReply != fallbackBuyerLine {
		t.Fatalf("expected fallback line, got %q", result.BuyerReply)
	}
	if result.MicroScore == nil {
		t.Fatalf("fallback turn must still be scored")
	}

	after, _ := eng.GetSession(ctx, sess.SessionID)
	if after.TurnCount != 1 || after.ScoredTurns != 1 {
		t.Fatalf("fallback turn must count and score, got %+v", after)
	}
}

// TestSubmitTurnAngryHangup 验证挂断链路。
// 场景：angry × nightmare 基线 {55,15,10}，每轮高压话术把愤怒拉高
// round(6×1.5×1.4)=13：轮次门槛（≥6）放行前愤怒早已越线，
// 第 6 轮触发 angry 挂断，该轮不评分，之后的轮次被 409 语义拒绝。
func TestSubmitTurnAngryHangup(t *testing.T) {
	eng, _, tl := newTestEngine(&llm.MockClient{Reply: "Go on."})
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, StartParams{Persona: "angry", Difficulty: "nightmare", Mode: "standard"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	pressure := "You need to sign today, last chance!"
	var result *TurnResult
	for i := 1; i <= 6; i++ {
		result, err = eng.SubmitTurn(ctx, sess.SessionID, pressure)
		if err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
		if i < 6 && result.Ended {
			t.Fatalf("turn %d: ended too early: %+v", i, result)
		}
	}

	if !result.Ended || result.EndReason != model.EndReasonAngry {
		t.Fatalf("expected angry hangup on turn 6, got %+v", result)
	}
	if result.MicroScore != nil {
		t.Fatalf("hangup turn must not be scored")
	}
	if result.BuyerReply != hangup.ScriptedLine(model.EndReasonAngry) {
		t.Fatalf("expected scripted hangup line, got %q", result.BuyerReply)
	}

	after, _ := eng.GetSession(ctx, sess.SessionID)
	if !after.Ended || after.EndReason != model.EndReasonAngry {
		t.Fatalf("hangup must persist, got %+v", after)
	}
	if after.TurnCount != 6 || after.ScoredTurns != 5 {
		t.Fatalf("expected 6 turns / 5 scored, got %+v", after)
	}

	events, _ := tl.List(ctx, sess.SessionID)
	last := events[len(events)-1]
	if last.Type != model.EventHangup || last.Reason != model.EndReasonAngry {
		t.Fatalf("expected trailing hangup event, got %+v", last)
	}

	var endedErr *SessionEndedError
	if _, err := eng.SubmitTurn(ctx, sess.SessionID, "Wait, hear me out!"); !errors.As(err, &endedErr) {
		t.Fatalf("expected SessionEndedError, got %v", err)
	}
	if endedErr.Reason != model.EndReasonAngry {
		t.Fatalf("expected angry reason on rejection, got %s", endedErr.Reason)
	}
}

// TestFinalizeMeasuredSession 验证结算全链路算术。
// 场景：实测均值 80，信任 80（+5），closed 收场（+8）→ 终分 93（win）；
// 基础 XP round(30×1.43)=43，连击 4 → ×1.2 → 52，comeback 奖励 +5 → 57。
func TestFinalizeMeasuredSession(t *testing.T) {
	eng, store, tl := newTestEngine(&llm.MockClient{})
	ctx := context.Background()

	sess := &model.SparringSession{
		V:          model.SchemaVersion,
		SessionID:  "S_finalize_measured",
		Persona:    model.PersonaFriendly,
		Difficulty: model.DifficultyNormal,
		Mode:       model.ModeStandard,
		CreatedAt:  time.Now(),
		Emotional:  model.EmotionalState{Anger: 10, Boredom: 20, Trust: 80},
		Streak: model.StreakMetadata{
			Streak: 4, BestStreak: 4, XPMultiplier: 1.2, XPBonusPending: 5,
		},
		AvgTurnScore:   80,
		TotalTurnScore: 800,
		ScoredTurns:    10,
		TurnCount:      10,
		Ended:          true,
		EndReason:      model.EndReasonClosed,
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("seed session failed: %v", err)
	}

	bd, err := eng.Finalize(ctx, sess.SessionID, nil)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if bd.BaseSource != "measured" || bd.BaseScore != 80 {
		t.Fatalf("expected measured base 80, got %+v", bd)
	}
	if bd.EmotionAdjust != 5 || bd.EndReasonAdjust != 8 {
		t.Fatalf("expected adjustments +5/+8, got %+v", bd)
	}
	if bd.FinalScore != 93 || bd.Outcome != model.OutcomeWin {
		t.Fatalf("expected 93/win, got %+v", bd)
	}
	if bd.BaseXP != 43 || bd.StreakMultiplier != 1.2 || bd.ComebackBonus != 5 {
		t.Fatalf("unexpected XP pipeline: %+v", bd)
	}
	if bd.XPAwarded != 57 {
		t.Fatalf("expected 57 XP, got %d", bd.XPAwarded)
	}

	after, _ := eng.GetSession(ctx, sess.SessionID)
	if after.FinalScore == nil || *after.FinalScore != 93 {
		t.Fatalf("final score must persist, got %+v", after)
	}
	if after.XPAwarded == nil || *after.XPAwarded != 57 {
		t.Fatalf("awarded XP must persist, got %+v", after)
	}
	if after.Streak.XPBonusPending != 0 || after.Streak.ComebackPending {
		t.Fatalf("comeback bonus must be consumed on finalize, got %+v", after.Streak)
	}

	events, _ := tl.List(ctx, sess.SessionID)
	if len(events) != 1 || events[0].Type != model.EventFinalizeResult {
		t.Fatalf("expected single finalize_result event, got %+v", events)
	}
}

// TestFinalizeIdempotent 验证重复结算原样返回且奖励绝不二次发放。
func TestFinalizeIdempotent(t *testing.T) {
	eng, store, tl := newTestEngine(&llm.MockClient{})
	ctx := context.Background()

	sess := &model.SparringSession{
		V:            model.SchemaVersion,
		SessionID:    "S_finalize_twice",
		Persona:      model.PersonaDefault,
		Difficulty:   model.DifficultyNormal,
		Mode:         model.ModeStandard,
		CreatedAt:    time.Now(),
		Emotional:    model.EmotionalState{Anger: 10, Boredom: 20, Trust: 80},
		Streak:         model.StreakMetadata{Streak: 4, BestStreak: 4, XPBonusPending: 5},
		AvgTurnScore:   80,
		TotalTurnScore: 800,
		ScoredTurns:    10,
		TurnCount:      10,
		Ended:        true,
		EndReason:    model.EndReasonClosed,
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("seed session failed: %v", err)
	}

	first, err := eng.Finalize(ctx, sess.SessionID, nil)
	if err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}
	second, err := eng.Finalize(ctx, sess.SessionID, nil)
	if err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}
	if *first != *second {
		t.Fatalf("repeat finalize must return the stored result:\nfirst  %+v\nsecond %+v", first, second)
	}
	if second.XPAwarded != first.XPAwarded {
		t.Fatalf("XP must not be re-awarded, first=%d second=%d", first.XPAwarded, second.XPAwarded)
	}

	events, _ := tl.List(ctx, sess.SessionID)
	finalizeCount := 0
	for _, evt := range events {
		if evt.Type == model.EventFinalizeResult {
			finalizeCount++
		}
	}
	if finalizeCount != 1 {
		t.Fatalf("repeat finalize must not append events, got %d finalize events", finalizeCount)
	}
}

// TestFinalizeOverrideScore 验证显式覆盖分优先于实测均值。
// 场景：覆盖 85，信任 80（+5），closed（+8）→ 98，win。
func TestFinalizeOverrideScore(t *testing.T) {
	eng, store, _ := newTestEngine(&llm.MockClient{})
	ctx := context.Background()

	sess := &model.SparringSession{
		V:            model.SchemaVersion,
		SessionID:    "S_finalize_override",
		Persona:      model.PersonaDefault,
		Difficulty:   model.DifficultyNormal,
		Mode:         model.ModeStandard,
		CreatedAt:    time.Now(),
		Emotional:    model.EmotionalState{Anger: 10, Boredom: 20, Trust: 80},
		AvgTurnScore:   40,
		TotalTurnScore: 240,
		ScoredTurns:    6,
		TurnCount:      6,
		Ended:        true,
		EndReason:    model.EndReasonClosed,
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("seed session failed: %v", err)
	}

	override := 85
	bd, err := eng.Finalize(ctx, sess.SessionID, &override)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if bd.BaseSource != "override" || bd.BaseScore != 85 {
		t.Fatalf("expected override base 85, got %+v", bd)
	}
	if bd.FinalScore != 98 || bd.Outcome != model.OutcomeWin {
		t.Fatalf("expected 98/win, got %+v", bd)
	}
}

// TestFinalizeUnmeasuredSynthesizesBase 验证零实测轮次的合成兜底，
// 且结算隐式收尾：后续轮次被拒。
func TestFinalizeUnmeasuredSynthesizesBase(t *testing.T) {
	eng, _, _ := newTestEngine(&llm.MockClient{})
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, StartParams{Persona: "default", Difficulty: "normal", Mode: "standard"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	bd, err := eng.Finalize(ctx, sess.SessionID, nil)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if bd.BaseSource != "unmeasured" || bd.BaseScore != 75 {
		t.Fatalf("expected synthesized base 75, got %+v", bd)
	}
	if bd.EmotionAdjust != 0 || bd.EndReasonAdjust != 0 {
		t.Fatalf("fresh default baseline must not trigger adjustments, got %+v", bd)
	}
	if bd.FinalScore != 75 || bd.Outcome != model.OutcomeNeutral {
		t.Fatalf("expected 75/neutral, got %+v", bd)
	}

	after, _ := eng.GetSession(ctx, sess.SessionID)
	if !after.Ended || after.EndReason != model.EndReasonNone {
		t.Fatalf("finalize must close an open session with reason none, got %+v", after)
	}

	var endedErr *SessionEndedError
	if _, err := eng.SubmitTurn(ctx, sess.SessionID, "One more thing!"); !errors.As(err, &endedErr) {
		t.Fatalf("expected SessionEndedError after finalize, got %v", err)
	}
	if endedErr.Reason != model.EndReasonNone {
		t.Fatalf("expected reason none, got %s", endedErr.Reason)
	}
}

// TestSubmitTurnUnknownSession 验证未知会话原样透出 ErrNotFound。
func TestSubmitTurnUnknownSession(t *testing.T) {
	eng, _, _ := newTestEngine(&llm.MockClient{})

	if _, err := eng.SubmitTurn(context.Background(), "S_missing", "Hello there"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failingSaveStore 包装内存存储，前 N 次 Save 返回 Rev 冲突。
type failingSaveStore struct {
	session.Store
	failSaves int
}

func (s *failingSaveStore) Save(ctx context.Context, sess *model.SparringSession) error {
	if s.failSaves > 0 {
		s.failSaves--
		return session.ErrRevConflict
	}
	return s.Store.Save(ctx, sess)
}

// TestSubmitTurnRejectedSaveLeavesNoTrace 验证落库失败的轮次不进审计时间线。
// 场景：Save 返回 Rev 冲突 → 轮次对调用方报错；时间线仍只有开局事件；
// 重试成功后时间线完整且 seq 连续无空洞。
func TestSubmitTurnRejectedSaveLeavesNoTrace(t *testing.T) {
	store := &failingSaveStore{Store: session.NewInMemoryStore(), failSaves: 1}
	tl := timeline.NewInMemoryStore()
	eng := New(store, tl, &llm.MockClient{Reply: "Go on."}, nil, config.EngineConfig{ReplyTimeout: time.Second}, nil, nil)
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, StartParams{Persona: "friendly", Difficulty: "normal", Mode: "standard"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if _, err := eng.SubmitTurn(ctx, sess.SessionID, "How are you handling this today?"); !errors.Is(err, session.ErrRevConflict) {
		t.Fatalf("expected rev conflict error, got %v", err)
	}

	events, _ := tl.List(ctx, sess.SessionID)
	if len(events) != 1 || events[0].Type != model.EventSessionStarted {
		t.Fatalf("rejected turn must not reach the timeline, got %+v", events)
	}

	if _, err := eng.SubmitTurn(ctx, sess.SessionID, "How are you handling this today?"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	events, _ = tl.List(ctx, sess.SessionID)
	if len(events) != 4 {
		t.Fatalf("expected 4 events after retry, got %d: %+v", len(events), events)
	}
	for i, evt := range events {
		if evt.Seq != int64(i+1) {
			t.Fatalf("expected contiguous seq, got %+v", events)
		}
	}
}
