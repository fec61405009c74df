package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"spar-talk/server/internal/config"
	"spar-talk/server/internal/emotion"
	"spar-talk/server/internal/hangup"
	"spar-talk/server/internal/live"
	"spar-talk/server/internal/llm"
	"spar-talk/server/internal/model"
	"spar-talk/server/internal/persona"
	"spar-talk/server/internal/scoring"
	"spar-talk/server/internal/session"
	"spar-talk/server/internal/streak"
	"spar-talk/server/internal/timeline"
)

// ErrEmptyTurnText 空白话术被同步拒绝，不产生任何状态变更。
var ErrEmptyTurnText = errors.New("turn text is empty")

// SessionEndedError 表示轮次被提交到了已结束的会话，携带当时的结束原因。
type SessionEndedError struct {
	Reason model.EndReason
}

func (e *SessionEndedError) Error() string {
	return fmt.Sprintf("session already ended: %s", e.Reason)
}

// fallbackBuyerLine 文本生成失败/超时的固定兜底台词。
// 失败只降级不报错：该轮照常计数、照常评分。
const fallbackBuyerLine = "Sorry, you're breaking up a little — could you say that again?"

// Engine 陪练会话引擎：逐轮推进情绪模型、裁决挂断、评分并更新连击，
// 结束时做一次性的结算。
//
// 并发契约：
//   - 跨会话无共享可变状态，水平并发天然安全。
//   - 同一会话内用 per-session 锁 + Store 的 Rev 校验串行化提交，
//     第 N+1 轮必然读到第 N 轮已提交的状态。
//   - 唯一的阻塞操作是文本生成调用，受 ReplyTimeout 硬超时约束。
type Engine struct {
	store    session.Store
	timeline timeline.Store
	llm      llm.Client
	profiles *persona.Table
	cfg      config.EngineConfig
	hub      *live.Hub
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New 创建引擎。hub 可为 nil（无观战广播）；now 为 nil 时用 time.Now。
func New(store session.Store, tl timeline.Store, client llm.Client, profiles *persona.Table, cfg config.EngineConfig, hub *live.Hub, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if profiles == nil {
		profiles = persona.DefaultTable()
	}
	cfg.Streak = cfg.Streak.Normalize()
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = 10 * time.Second
	}
	if cfg.GlobalXPMultiplier == 0 {
		cfg.GlobalXPMultiplier = 1.0
	}
	return &Engine{
		store:    store,
		timeline: tl,
		llm:      client,
		profiles: profiles,
		cfg:      cfg,
		hub:      hub,
		now:      now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// StartParams 开启会话的入参。Difficulty/Mode 严格校验，Persona 宽容兜底。
type StartParams struct {
	RepID      string
	Persona    string
	Difficulty string
	Mode       string
}

// StartSession 创建一个新会话：按人设×难度播种情绪基线，连击元数据全零。
func (e *Engine) StartSession(ctx context.Context, p StartParams) (*model.SparringSession, error) {
	difficulty, err := model.ParseDifficulty(p.Difficulty)
	if err != nil {
		return nil, err
	}
	mode, err := model.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	pers := model.ParsePersona(p.Persona)

	now := e.now()
	sess := &model.SparringSession{
		V:          model.SchemaVersion,
		SessionID:  newSessionID(now),
		RepID:      p.RepID,
		Persona:    pers,
		Difficulty: difficulty,
		Mode:       mode,
		CreatedAt:  now,
		Emotional:  e.profiles.Baseline(pers, difficulty),
	}

	if err := e.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e.appendEvent(ctx, sess.SessionID, &model.Event{
		Type:     model.EventSessionStarted,
		EventID:  sess.SessionID + "_started",
		ServerTS: now,
	})

	log.Printf("[Engine] session started: id=%s persona=%s difficulty=%s mode=%s", sess.SessionID, pers, difficulty, mode)
	return sess, nil
}

// TurnResult 一次轮次提交的结果。
type TurnResult struct {
	BuyerReply string                  `json:"buyer_reply"`
	MicroScore *model.MicroScoreRecord `json:"micro_score,omitempty"`
	State      model.EmotionalState    `json:"state"`
	Streak     model.StreakMetadata    `json:"streak"`
	Ended      bool                    `json:"ended"`
	EndReason  model.EndReason         `json:"end_reason,omitempty"`
}

// Advance 单个组合步：先做本轮情绪演化，再基于演化后的状态裁决挂断。
// 两步必须按这个顺序成对发生，所以不单独暴露可被乱序调用的两个函数。
func (e *Engine) Advance(sess *model.SparringSession, turns int, repText string) (model.EmotionalState, hangup.Decision) {
	prof := e.profiles.Get(sess.Persona)
	next := emotion.Step(sess.Emotional, prof, sess.Difficulty, turns, repText)
	decision := hangup.Decide(e.profiles, sess.Persona, sess.Difficulty, sess.Mode, turns, next)
	return next, decision
}

// SubmitTurn 处理销售代表的一轮话术。
//
// 流程：情绪演化 → 挂断裁决 →（继续时）买家台词生成 → 微评分 → 连击更新。
// 买家挂断时用固定台词收尾并落 ended 标记，该轮不评分。
func (e *Engine) SubmitTurn(ctx context.Context, sessionID, repText string) (*TurnResult, error) {
	if strings.TrimSpace(repText) == "" {
		return nil, ErrEmptyTurnText
	}

	lock := e.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Ended {
		return nil, &SessionEndedError{Reason: sess.EndReason}
	}

	now := e.now()
	turns := sess.TurnCount + 1

	newState, decision := e.Advance(sess, turns, repText)

	// 事实事件先攒着，状态成功落库之后再写时间线并广播：
	// 被拒绝的轮次（如 Rev 冲突）不得在审计流里留痕。
	pending := []*model.Event{{
		Type:     model.EventRepTurn,
		EventID:  fmt.Sprintf("%s_t%d_rep", sessionID, turns),
		Text:     repText,
		Turn:     turns,
		ServerTS: now,
	}}

	result := &TurnResult{State: newState}

	if decision.End {
		buyerReply := hangup.ScriptedLine(decision.Reason)
		sess.Ended = true
		sess.EndReason = decision.Reason

		pending = append(pending, &model.Event{
			Type:     model.EventHangup,
			EventID:  fmt.Sprintf("%s_t%d_hangup", sessionID, turns),
			Text:     buyerReply,
			Turn:     turns,
			Reason:   decision.Reason,
			ServerTS: now,
		})

		result.BuyerReply = buyerReply
		result.Ended = true
		result.EndReason = decision.Reason
		log.Printf("[Engine] buyer hung up: session=%s turn=%d reason=%s", sessionID, turns, decision.Reason)
	} else {
		buyerReply := e.generateBuyerReply(ctx, sess, repText)
		record := scoring.ScoreTurn(repText, buyerReply)
		sess.AppendMicroScore(record)
		sess.Streak = streak.Update(sess.Streak, record.TurnScore, e.cfg.Streak)

		pending = append(pending, &model.Event{
			Type:     model.EventBuyerTurn,
			EventID:  fmt.Sprintf("%s_t%d_buyer", sessionID, turns),
			Text:     buyerReply,
			Turn:     turns,
			ServerTS: now,
		}, &model.Event{
			Type:       model.EventMicroScore,
			EventID:    fmt.Sprintf("%s_t%d_score", sessionID, turns),
			Turn:       turns,
			MicroScore: &record,
			ServerTS:   now,
		})

		result.BuyerReply = buyerReply
		result.MicroScore = &record
	}

	sess.Emotional = newState
	sess.TurnCount = turns
	sess.DurationSec = int(now.Sub(sess.CreatedAt).Seconds())
	result.Streak = sess.Streak

	if err := e.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	for _, evt := range pending {
		e.appendEvent(ctx, sessionID, evt)
	}

	return result, nil
}

// GetSession 读取会话快照。
func (e *Engine) GetSession(ctx context.Context, id string) (*model.SparringSession, error) {
	return e.store.Get(ctx, id)
}

// History 返回该会话的完整时间线（回放与审计用）。
func (e *Engine) History(ctx context.Context, id string) ([]model.Event, error) {
	return e.timeline.List(ctx, id)
}

// generateBuyerReply 调用文本生成服务产出买家台词。
// 受 ReplyTimeout 硬超时约束；任何失败都降级为固定兜底台词，
// 不向销售代表暴露错误，该轮照常评分。
func (e *Engine) generateBuyerReply(ctx context.Context, sess *model.SparringSession, repText string) string {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ReplyTimeout)
	defer cancel()

	messages := e.buildPrompt(callCtx, sess, repText)
	reply, err := e.llm.Complete(callCtx, messages)
	if err != nil {
		log.Printf("[Engine] buyer reply generation failed, using fallback: session=%s err=%v", sess.SessionID, err)
		return fallbackBuyerLine
	}
	return reply
}

// buildPrompt 组装买家扮演提示词：人设描述 + 历史轮次 + 本轮话术。
func (e *Engine) buildPrompt(ctx context.Context, sess *model.SparringSession, repText string) []llm.Message {
	prof := e.profiles.Get(sess.Persona)
	system := fmt.Sprintf(
		"%s Difficulty: %s. Drill mode: %s. Stay in character, reply with one short spoken line, never break the fourth wall.",
		prof.Description(), sess.Difficulty, sess.Mode,
	)
	messages := []llm.Message{{Role: "system", Content: system}}

	// 历史从时间线回放；读失败时退化为只带本轮话术（台词质量降级但不失败）。
	events, err := e.timeline.List(ctx, sess.SessionID)
	if err != nil {
		log.Printf("[Engine] history replay failed: session=%s err=%v", sess.SessionID, err)
		events = nil
	}
	for _, evt := range events {
		switch evt.Type {
		case model.EventRepTurn:
			messages = append(messages, llm.Message{Role: "user", Content: evt.Text})
		case model.EventBuyerTurn:
			messages = append(messages, llm.Message{Role: "assistant", Content: evt.Text})
		}
	}

	// 时间线只含已提交的历史轮次，本轮话术在落库后才入线，这里补上。
	messages = append(messages, llm.Message{Role: "user", Content: repText})
	return messages
}

// appendEvent 落时间线并广播给观战端。时间线写失败只记日志：
// 事实留痕缺口不应让整轮失败。
func (e *Engine) appendEvent(ctx context.Context, sessionID string, evt *model.Event) {
	seq, err := e.timeline.Append(ctx, sessionID, evt)
	if err != nil {
		log.Printf("[Engine] timeline append failed: session=%s type=%s err=%v", sessionID, evt.Type, err)
		return
	}
	evt.Seq = seq
	evt.SessionID = sessionID
	if e.hub != nil {
		e.hub.Publish(sessionID, *evt)
	}
}

// lockFor 取该会话的串行化锁。锁常驻内存：会话量级与进程生命周期
// 匹配，不做回收。
func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if l, ok := e.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.locks[sessionID] = l
	return l
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("S_%d", now.UnixNano())
}
