package model

import (
	"fmt"
	"time"
)

// Persona 买家人设标识。闭集：未知值在解析时兜底为 PersonaDefault，
// 保证引擎深处不会再出现隐式默认分支。
type Persona string

const (
	PersonaDefault        Persona = "default"
	PersonaAngry          Persona = "angry"
	PersonaSilent         Persona = "silent"
	PersonaPriceSensitive Persona = "price_sensitive"
	PersonaSkeptical      Persona = "skeptical"
	PersonaFriendly       Persona = "friendly"
)

// ParsePersona 宽容解析：未知人设回落到默认画像（而不是报错），
// 与“未知 persona id 不致命”的产品约定一致。
func ParsePersona(s string) Persona {
	switch Persona(s) {
	case PersonaAngry, PersonaSilent, PersonaPriceSensitive, PersonaSkeptical, PersonaFriendly, PersonaDefault:
		return Persona(s)
	default:
		return PersonaDefault
	}
}

// Difficulty 难度档位。
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyNormal    Difficulty = "normal"
	DifficultyHard      Difficulty = "hard"
	DifficultyNightmare Difficulty = "nightmare"
)

// ParseDifficulty 严格解析：未知难度是构造期错误，不允许流入决策逻辑。
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyNormal, DifficultyHard, DifficultyNightmare:
		return Difficulty(s), nil
	case "":
		return DifficultyNormal, nil
	default:
		return "", fmt.Errorf("unknown difficulty: %q", s)
	}
}

// Mode 训练模式，影响节奏阈值与 XP 系数。
type Mode string

const (
	ModeStandard  Mode = "standard"
	ModeTimeTrial Mode = "time_trial"
	ModeCloseIn2M Mode = "close_in_2m"
)

// ParseMode 严格解析：未知模式是构造期错误。
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStandard, ModeTimeTrial, ModeCloseIn2M:
		return Mode(s), nil
	case "":
		return ModeStandard, nil
	default:
		return "", fmt.Errorf("unknown mode: %q", s)
	}
}

// Fast 返回该模式是否属于快节奏，用于挂断软上限的收紧。
func (m Mode) Fast() bool {
	return m == ModeTimeTrial || m == ModeCloseIn2M
}

// EndReason 买家挂断/会话结束的原因。
type EndReason string

const (
	EndReasonNone    EndReason = "none"
	EndReasonBored   EndReason = "bored"
	EndReasonAngry   EndReason = "angry"
	EndReasonTimeout EndReason = "timeout"
	EndReasonClosed  EndReason = "closed"
)

// Outcome 会话结局评级。
type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeNeutral Outcome = "neutral"
)

// EmotionalState 买家情绪三维。每一维都是 [0,100] 的整数，
// 所有演化都是“加增量再钳位”，不允许出现越界值。
type EmotionalState struct {
	Anger   int `json:"anger"`
	Boredom int `json:"boredom"`
	Trust   int `json:"trust"`
}

// Clamp 把三个维度都收回 [0,100]。
func (e EmotionalState) Clamp() EmotionalState {
	e.Anger = ClampScore(e.Anger)
	e.Boredom = ClampScore(e.Boredom)
	e.Trust = ClampScore(e.Trust)
	return e
}

// ClampScore 通用 [0,100] 钳位。
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// StreakMetadata 连击与倍率元数据。
// 约定：所有数值字段零值即合法（默认 0），XPMultiplier 永远是派生值，
// 不允许外部直接改写。
type StreakMetadata struct {
	Streak           int     `json:"streak"`
	BestStreak       int     `json:"best_streak"`
	XPMultiplier     float64 `json:"xp_multiplier"`
	LastTurnScore    int     `json:"last_turn_score"`
	LastTurnScoreRaw int     `json:"last_turn_score_raw"`
	ComebackPending  bool    `json:"comeback_pending"`
	XPBonusPending   int     `json:"xp_bonus_pending"`
}

// ScoreBreakdown 单轮评分的五个维度（各 0-100）。
type ScoreBreakdown struct {
	Opener     int `json:"opener"`
	Discovery  int `json:"discovery"`
	Pitch      int `json:"pitch"`
	Objections int `json:"objections"`
	Close      int `json:"close"`
}

// MicroScoreRecord 单轮微评分记录，追加后不可变。
type MicroScoreRecord struct {
	TurnScore int            `json:"turn_score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	CoachNote string         `json:"coach_note"`
	Flags     []string       `json:"flags"`
}

// FinalizeBreakdown 结算审计明细：基础分来源、各项修正、倍率与奖励的完整留痕。
type FinalizeBreakdown struct {
	BaseScore        int     `json:"base_score"`
	BaseSource       string  `json:"base_source"` // override | measured | unmeasured
	EmotionAdjust    int     `json:"emotion_adjust"`
	EndReasonAdjust  int     `json:"end_reason_adjust"`
	FinalScore       int     `json:"final_score"`
	Outcome          Outcome `json:"outcome"`
	BaseXP           int     `json:"base_xp"`
	StreakMultiplier float64 `json:"streak_multiplier"`
	GlobalMultiplier float64 `json:"global_multiplier"`
	ComebackBonus    int     `json:"comeback_bonus"`
	XPAwarded        int     `json:"xp_awarded"`
}

// MaxMicroScores 单会话保留的微评分上限，超出后丢弃最旧的记录。
const MaxMicroScores = 64

// SchemaVersion 当前会话状态结构的版本号，新增字段必须向后兼容。
const SchemaVersion = 1

// SparringSession 一次陪练会话的完整快照。
//
// 并发约定：
//   - V 是状态结构的 schema 版本。
//   - Rev 是乐观并发版本号，Store.Save 用它做“最后提交者胜出”校验。
//
// 不变量：Ended=true 之后不再接受任何轮次；FinalScore 一旦写入，
// Finalize 变为幂等（返回已存结果，comeback 奖励绝不二次发放）。
type SparringSession struct {
	V         int    `json:"v"`
	Rev       int64  `json:"rev"`
	SessionID string `json:"session_id"`
	RepID     string `json:"rep_id"`

	Persona    Persona    `json:"persona"`
	Difficulty Difficulty `json:"difficulty"`
	Mode       Mode       `json:"mode"`

	CreatedAt   time.Time `json:"created_at"`
	TurnCount   int       `json:"turn_count"`
	DurationSec int       `json:"duration_sec"`

	Emotional EmotionalState `json:"emotional"`
	Streak    StreakMetadata `json:"streak"`

	// AvgTurnScore 是已评分轮次分数的四舍五入均值，结算时作为实测基础分。
	// 由 TotalTurnScore 单次取整推导，逐轮重复取整会累积漂移。
	AvgTurnScore int `json:"avg_turn_score"`
	// TotalTurnScore 已评分轮次原始分的整数累加和。
	TotalTurnScore int `json:"total_turn_score"`
	ScoredTurns    int `json:"scored_turns"`

	Ended     bool      `json:"ended"`
	EndReason EndReason `json:"end_reason,omitempty"`

	FinalScore *int               `json:"final_score,omitempty"`
	XPAwarded  *int               `json:"xp_awarded,omitempty"`
	Outcome    Outcome            `json:"outcome,omitempty"`
	Finalize   *FinalizeBreakdown `json:"finalize,omitempty"`

	MicroScores []MicroScoreRecord `json:"micro_scores,omitempty"`
}

// AppendMicroScore 追加一条微评分并维护滚动均值；超过上限丢最旧。
func (s *SparringSession) AppendMicroScore(rec MicroScoreRecord) {
	s.MicroScores = append(s.MicroScores, rec)
	if len(s.MicroScores) > MaxMicroScores {
		s.MicroScores = s.MicroScores[len(s.MicroScores)-MaxMicroScores:]
	}
	// 均值基于全部已评分轮次（而不是被截断后的窗口），从整数累加和
	// 单次取整得出，任何轮数下都是真实均值的四舍五入。
	s.TotalTurnScore += rec.TurnScore
	s.ScoredTurns++
	s.AvgTurnScore = int(float64(s.TotalTurnScore)/float64(s.ScoredTurns) + 0.5)
}

// Event 时间线中的一个事实事件，用于回放与结算审计。
type Event struct {
	// Seq 由后端分配的单调序号，用于回放与幂等。
	Seq int64 `json:"seq,omitempty"`
	// SessionID 由引擎补齐，客户端可不传。
	SessionID string `json:"session_id,omitempty"`
	// EventID 用于去重与重试幂等。
	EventID string `json:"event_id,omitempty"`

	// Type 事件类型（session_started/rep_turn/buyer_turn/micro_score/hangup/finalize_result）。
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	Turn       int                `json:"turn,omitempty"`
	Reason     EndReason          `json:"reason,omitempty"`
	MicroScore *MicroScoreRecord  `json:"micro_score,omitempty"`
	Finalize   *FinalizeBreakdown `json:"finalize,omitempty"`

	ServerTS time.Time `json:"server_ts,omitempty"`
}

// 时间线事件类型。
const (
	EventSessionStarted = "session_started"
	EventRepTurn        = "rep_turn"
	EventBuyerTurn      = "buyer_turn"
	EventMicroScore     = "micro_score"
	EventHangup         = "hangup"
	EventFinalizeResult = "finalize_result"
)
