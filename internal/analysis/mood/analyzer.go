// Package mood derives mood statistics from stored conversations.
package mood

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

// Point 是单条消息对应的心情采样。
type Point struct {
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
	Mood           mood.Mood `json:"mood"`
	Score          float64   `json:"score"`
}

// Stats summarizes the sampled points. Average and MostFrequent are nil without data.
type Stats struct {
	Average          *float64          `json:"average"`
	MostFrequent     *mood.Mood        `json:"mostFrequent"`
	MoodDistribution map[mood.Mood]int `json:"moodDistribution"`
	Count            int               `json:"count"`
}

// Result is the analytics payload.
type Result struct {
	MoodData  []Point `json:"moodData"`
	MoodStats Stats   `json:"moodStats"`
}

// Filter restricts which messages are sampled. A zero Since keeps everything.
type Filter struct {
	Since time.Time
}

// ParseRange 解析前端的时间范围参数：week、month、year 或 all。
func ParseRange(raw string, now time.Time) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return Filter{}, nil
	case "week":
		return Filter{Since: now.AddDate(0, 0, -7)}, nil
	case "month":
		return Filter{Since: now.AddDate(0, -1, 0)}, nil
	case "year":
		return Filter{Since: now.AddDate(-1, 0, 0)}, nil
	default:
		return Filter{}, fmt.Errorf("unsupported range %q", raw)
	}
}

// Analyze samples one point per message. A message without its own mood inherits the
// conversation mood. Conversations are scanned oldest first so ties on the most
// frequent mood go to the mood seen first.
func Analyze(conversations []chat.Conversation, filter Filter) Result {
	ordered := make([]chat.Conversation, len(conversations))
	copy(ordered, conversations)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	points := make([]Point, 0)
	for _, conv := range ordered {
		for _, msg := range conv.Messages {
			if !filter.Since.IsZero() && msg.Timestamp.Before(filter.Since) {
				continue
			}
			m := msg.Mood
			if m == "" {
				m = conv.Mood
			}
			m = mood.Normalize(string(m))
			points = append(points, Point{
				ConversationID: conv.ID,
				Timestamp:      msg.Timestamp,
				Mood:           m,
				Score:          mood.Score(string(m)),
			})
		}
	}

	return Result{MoodData: points, MoodStats: summarize(points)}
}

func summarize(points []Point) Stats {
	stats := Stats{
		MoodDistribution: make(map[mood.Mood]int),
		Count:            len(points),
	}
	if len(points) == 0 {
		return stats
	}

	var (
		total float64
		order []mood.Mood
	)
	for _, p := range points {
		total += p.Score
		if _, seen := stats.MoodDistribution[p.Mood]; !seen {
			order = append(order, p.Mood)
		}
		stats.MoodDistribution[p.Mood]++
	}

	average := total / float64(len(points))
	stats.Average = &average

	most := order[0]
	for _, m := range order[1:] {
		if stats.MoodDistribution[m] > stats.MoodDistribution[most] {
			most = m
		}
	}
	stats.MostFrequent = &most
	return stats
}
