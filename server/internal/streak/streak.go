package streak

import (
	"math"

	"spar-talk/server/internal/model"
)

// Config 连击引擎的全部手调参数。零值字段由 Normalize 填入默认值，
// 校准常数（×1.15 +10）为手调参数，保持原样。
type Config struct {
	// Threshold 连击倍率的起跳阈值 T。
	Threshold int `yaml:"threshold"`
	// ComebackBonus 连击断掉后立刻找回状态的一次性奖励。
	ComebackBonus int `yaml:"comeback_bonus"`
	// GoodnessMin 校准分达到该值才算“好轮次”。
	GoodnessMin float64 `yaml:"goodness_min"`
	// CalibrationEnabled 是否启用 raw*slope+offset 的分数校准。
	CalibrationEnabled *bool `yaml:"calibration_enabled"`
	// CalibrationSlope / CalibrationOffset 校准直线参数。
	CalibrationSlope  float64 `yaml:"calibration_slope"`
	CalibrationOffset float64 `yaml:"calibration_offset"`
	// UseBestStreak 倍率按历史最佳连击而非当前连击推导。
	UseBestStreak bool `yaml:"use_best_streak"`
}

// Normalize 补齐默认值后返回可用配置。
func (c Config) Normalize() Config {
	if c.Threshold == 0 {
		c.Threshold = 3
	}
	if c.ComebackBonus == 0 {
		c.ComebackBonus = 5
	}
	if c.GoodnessMin == 0 {
		c.GoodnessMin = 75
	}
	if c.CalibrationEnabled == nil {
		enabled := true
		c.CalibrationEnabled = &enabled
	}
	if c.CalibrationSlope == 0 {
		c.CalibrationSlope = 1.15
	}
	if c.CalibrationOffset == 0 {
		c.CalibrationOffset = 10
	}
	return c
}

// Calibrate 返回校准后的分数（浮点，未取整）。
func (c Config) Calibrate(raw int) float64 {
	if c.CalibrationEnabled != nil && !*c.CalibrationEnabled {
		return float64(raw)
	}
	v := float64(raw)*c.CalibrationSlope + c.CalibrationOffset
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Update 连击状态的单轮纯函数折叠：
//
//	meta' = Update(meta, rawTurnScore, cfg)
//
// 规则：
//   - 好轮次（校准分 ≥ GoodnessMin）：连击 +1，刷新最佳连击；
//     若 comeback 待命中，把奖励計入 XPBonusPending 并清掉标记。
//   - 非好轮次：此前连击 ≥2 时挂起 comeback，连击清零。
//   - 倍率永远由连击推导（见 Multiplier），不独立赋值。
//   - LastTurnScore / LastTurnScoreRaw 每轮必然覆写，字段绝不悬空。
func Update(meta model.StreakMetadata, rawTurnScore int, cfg Config) model.StreakMetadata {
	cfg = cfg.Normalize()

	calibrated := cfg.Calibrate(rawTurnScore)
	good := calibrated >= cfg.GoodnessMin

	if good {
		meta.Streak++
		if meta.Streak > meta.BestStreak {
			meta.BestStreak = meta.Streak
		}
		if meta.ComebackPending {
			meta.XPBonusPending += cfg.ComebackBonus
			meta.ComebackPending = false
		}
	} else {
		if meta.Streak >= 2 {
			meta.ComebackPending = true
		}
		meta.Streak = 0
	}

	basis := meta.Streak
	if cfg.UseBestStreak {
		basis = meta.BestStreak
	}
	meta.XPMultiplier = Multiplier(basis, cfg.Threshold)
	meta.LastTurnScore = int(math.Round(calibrated))
	meta.LastTurnScoreRaw = rawTurnScore

	return meta
}

// Multiplier 连击数对应的 XP 倍率：
// <T → 1.0，=T → 1.1，=T+1 → 1.2，≥T+2 → 1.3（封顶）。
func Multiplier(streak, threshold int) float64 {
	switch {
	case streak < threshold:
		return 1.0
	case streak == threshold:
		return 1.1
	case streak == threshold+1:
		return 1.2
	default:
		return 1.3
	}
}
