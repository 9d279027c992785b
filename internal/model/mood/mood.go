package mood

import "strings"

// Mood 表示用户在发起对话时选择的心情标签。
type Mood string

const (
	Happy    Mood = "happy"
	Excited  Mood = "excited"
	Peaceful Mood = "peaceful"
	Confused Mood = "confused"
	Anxious  Mood = "anxious"
	Sad      Mood = "sad"
	Angry    Mood = "angry"
	Tired    Mood = "tired"
)

// Default is used whenever a mood is missing or unknown.
const Default = Peaceful

// CoachPreamble 是所有系统提示词的固定前缀。
const CoachPreamble = "你是一个富有同理心的AI生活教练。"

// Entry 描述单个心情的评分与提示词。Score 同时作为采样温度使用。
type Entry struct {
	Mood   Mood    `json:"mood"`
	Score  float64 `json:"score"`
	Prompt string  `json:"prompt"`
}

// Temperature returns the sampling temperature sent upstream for this mood.
func (e Entry) Temperature() float64 {
	return e.Score
}

var order = []Mood{Happy, Excited, Peaceful, Confused, Anxious, Sad, Angry, Tired}

var table = map[Mood]Entry{
	Happy:    {Mood: Happy, Score: 1.0, Prompt: "你现在心情愉快，让我们继续保持这种积极的状态。"},
	Excited:  {Mood: Excited, Score: 0.8, Prompt: "你感到兴奋，这种能量很棒！让我们把它转化为动力。"},
	Peaceful: {Mood: Peaceful, Score: 0.6, Prompt: "你感到平静，这是一个很好的状态，让我们保持这种平和。"},
	Confused: {Mood: Confused, Score: 0.4, Prompt: "你感到困惑，这是正常的，让我们一起理清思路。"},
	Anxious:  {Mood: Anxious, Score: 0.3, Prompt: "你感到焦虑，让我们一起来缓解这种情绪。"},
	Sad:      {Mood: Sad, Score: 0.2, Prompt: "你感到难过，我在这里倾听和支持你。"},
	Angry:    {Mood: Angry, Score: 0.1, Prompt: "你感到生气，让我们一起来处理这种情绪。"},
	Tired:    {Mood: Tired, Score: 0.5, Prompt: "你感到疲惫，让我们来调整一下状态。"},
}

// All returns every known mood in display order.
func All() []Mood {
	return append([]Mood(nil), order...)
}

// Entries returns the full table in display order.
func Entries() []Entry {
	entries := make([]Entry, 0, len(order))
	for _, m := range order {
		entries = append(entries, table[m])
	}
	return entries
}

// Parse 解析原始输入，未知值返回 false。
func Parse(raw string) (Mood, bool) {
	m := Mood(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := table[m]; !ok {
		return "", false
	}
	return m, true
}

// Normalize maps any input onto the enumeration, falling back to Default.
func Normalize(raw string) Mood {
	if m, ok := Parse(raw); ok {
		return m
	}
	return Default
}

// Lookup 返回对应的表项，未知心情回退到 peaceful。
func Lookup(raw string) Entry {
	return table[Normalize(raw)]
}

// Score returns the analytics score of a mood.
func Score(raw string) float64 {
	return Lookup(raw).Score
}

// Temperature returns the upstream sampling temperature of a mood.
func Temperature(raw string) float64 {
	return Lookup(raw).Temperature()
}

// Prompt returns the mood-specific part of the system prompt.
func Prompt(raw string) string {
	return Lookup(raw).Prompt
}

// SystemPrompt 组合固定前缀与心情提示词。
func SystemPrompt(raw string) string {
	return CoachPreamble + Prompt(raw)
}

// String implements fmt.Stringer.
func (m Mood) String() string {
	return string(m)
}
