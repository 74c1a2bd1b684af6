package orchestration

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Tier 表示复杂度等级，数值越大越复杂。
type Tier int

const (
	TierTrivial Tier = iota
	TierStandard
	TierHigh
	TierTranscendent
)

var tierNames = [...]string{"trivial", "standard", "high", "transcendent"}

// String 返回等级名称。
func (t Tier) String() string {
	if t < TierTrivial || t > TierTranscendent {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// Valid 判断等级是否合法。
func (t Tier) Valid() bool { return t >= TierTrivial && t <= TierTranscendent }

// MarshalText 以名称序列化。
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText 从名称解析。
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier 将名称解析为等级。
func ParseTier(name string) (Tier, error) {
	for i, n := range tierNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Tier(i), nil
		}
	}
	return TierTrivial, fmt.Errorf("unknown complexity tier %q", name)
}

// Thresholds 为各等级的最低分数。
type Thresholds struct {
	Standard     float64
	High         float64
	Transcendent float64
}

// DefaultThresholds 返回默认阈值。
func DefaultThresholds() Thresholds {
	return Thresholds{Standard: 0.05, High: 0.5, Transcendent: 1.0}
}

// ThresholdsFromMap 用配置中的键覆盖默认阈值。
func ThresholdsFromMap(values map[string]float64) (Thresholds, error) {
	th := DefaultThresholds()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		tier, err := ParseTier(key)
		if err != nil {
			return th, complexityError("", err, "invalid classifier threshold key")
		}
		switch tier {
		case TierStandard:
			th.Standard = values[key]
		case TierHigh:
			th.High = values[key]
		case TierTranscendent:
			th.Transcendent = values[key]
		default:
			return th, complexityError("", nil, "tier %s has no threshold", tier)
		}
	}
	return th, th.validate()
}

func (th Thresholds) validate() error {
	for _, v := range []float64{th.Standard, th.High, th.Transcendent} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return complexityError("", nil, "threshold must be a finite non-negative number")
		}
	}
	if !(th.Standard <= th.High && th.High <= th.Transcendent) || th.Transcendent <= 0 {
		return complexityError("", nil, "thresholds must be ordered standard <= high <= transcendent and transcendent > 0")
	}
	return nil
}

// Descriptor 是分类器的输入。
type Descriptor struct {
	LevelID     string
	Description string
	Kind        LevelKind
	Units       int
}

// ClassifierContext 是分类器只读的外部信息。
type ClassifierContext struct {
	ChunkSize int
	History   HistoryStats
}

// Assessment 为一次分类的结果。是否需要超越处理只能由分类器设置。
type Assessment struct {
	Tier  Tier
	Score float64
	Units int

	transcend bool
}

// RequiresTranscendence 判断层级是否应交给超越协调器。
func (a Assessment) RequiresTranscendence() bool { return a.transcend }

var keywordWeights = map[string]float64{
	"bulk":       0.25,
	"batch":      0.25,
	"exhaustive": 0.25,
	"massive":    0.5,
	"simple":     -0.1,
}

// ComplexityClassifier 根据描述与上下文计算复杂度等级。
type ComplexityClassifier struct {
	thresholds Thresholds
}

// NewComplexityClassifier 创建分类器。
func NewComplexityClassifier(th Thresholds) (*ComplexityClassifier, error) {
	if err := th.validate(); err != nil {
		return nil, err
	}
	return &ComplexityClassifier{thresholds: th}, nil
}

// Thresholds 返回当前阈值。
func (c *ComplexityClassifier) Thresholds() Thresholds { return c.thresholds }

// Describe 从层级构造分类输入。
func Describe(level Level) Descriptor {
	d := Descriptor{LevelID: level.ID, Description: level.Description}
	if level.Type != nil {
		d.Kind = level.Type.Kind()
		d.Units = level.Type.units()
	}
	return d
}

// ClassifyLevel 对层级分类。
func (c *ComplexityClassifier) ClassifyLevel(level Level, cctx ClassifierContext) (Assessment, error) {
	return c.Classify(Describe(level), cctx)
}

// Classify 是纯函数：相同输入总是得到相同等级。
func (c *ComplexityClassifier) Classify(d Descriptor, cctx ClassifierContext) (Assessment, error) {
	if cctx.ChunkSize <= 0 {
		return Assessment{}, complexityError(d.LevelID, nil, "chunk size must be positive, got %d", cctx.ChunkSize)
	}
	if d.Units < 0 {
		return Assessment{}, complexityError(d.LevelID, nil, "negative unit count %d", d.Units)
	}
	rate := cctx.History.FailureRate
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return Assessment{}, complexityError(d.LevelID, nil, "history failure rate %v out of range", rate)
	}

	score := float64(d.Units) / float64(cctx.ChunkSize)
	for _, word := range strings.Fields(strings.ToLower(d.Description)) {
		score += keywordWeights[strings.Trim(word, ".,;:!?")]
	}
	if score < 0 {
		score = 0
	}
	score *= 1 + rate*0.5

	tier := TierTrivial
	switch {
	case score >= c.thresholds.Transcendent:
		tier = TierTranscendent
	case score >= c.thresholds.High:
		tier = TierHigh
	case score >= c.thresholds.Standard:
		tier = TierStandard
	}
	// 只有超越层级拥有可分块的数据项。
	if tier == TierTranscendent && d.Kind != KindTranscendent {
		tier = TierHigh
	}
	return Assessment{
		Tier:      tier,
		Score:     score,
		Units:     d.Units,
		transcend: tier == TierTranscendent,
	}, nil
}
