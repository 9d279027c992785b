package mood

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func conversation(id string, m mood.Mood, created time.Time, moods ...mood.Mood) chat.Conversation {
	conv := chat.New(id, m, "hello", created)
	for i, msgMood := range moods {
		conv.Messages = append(conv.Messages, chat.Message{
			Role:      chat.RoleUser,
			Content:   "msg",
			Mood:      msgMood,
			Timestamp: created.Add(time.Duration(i) * time.Minute),
		})
	}
	return conv
}

func TestAnalyzeEmptyHasNoData(t *testing.T) {
	result := Analyze(nil, Filter{})
	if result.MoodStats.Average != nil || result.MoodStats.MostFrequent != nil {
		t.Fatalf("expected null stats, got %+v", result.MoodStats)
	}
	if len(result.MoodData) != 0 || len(result.MoodStats.MoodDistribution) != 0 {
		t.Fatalf("expected empty data, got %+v", result)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	want := `{"moodData":[],"moodStats":{"average":null,"mostFrequent":null,"moodDistribution":{},"count":0}}`
	if string(raw) != want {
		t.Fatalf("unexpected JSON\n got %s\nwant %s", raw, want)
	}
}

func TestAnalyzeAverageAcrossConversations(t *testing.T) {
	convs := []chat.Conversation{
		conversation("a", mood.Happy, base, "", ""),
		conversation("b", mood.Sad, base.Add(time.Hour), "", ""),
	}

	result := Analyze(convs, Filter{})
	if result.MoodStats.Average == nil || math.Abs(*result.MoodStats.Average-0.6) > 1e-9 {
		t.Fatalf("expected average 0.6, got %v", result.MoodStats.Average)
	}
	if result.MoodStats.Count != 4 {
		t.Fatalf("expected 4 points, got %d", result.MoodStats.Count)
	}
	if result.MoodStats.MoodDistribution[mood.Happy] != 2 || result.MoodStats.MoodDistribution[mood.Sad] != 2 {
		t.Fatalf("unexpected distribution %v", result.MoodStats.MoodDistribution)
	}
}

func TestAnalyzeTieGoesToFirstEncountered(t *testing.T) {
	convs := []chat.Conversation{
		conversation("newer", mood.Sad, base.Add(time.Hour), ""),
		conversation("older", mood.Angry, base, ""),
	}

	result := Analyze(convs, Filter{})
	if got := *result.MoodStats.MostFrequent; got != mood.Angry {
		t.Fatalf("expected angry (seen first), got %s", got)
	}
	if result.MoodData[0].ConversationID != "older" {
		t.Fatalf("expected oldest conversation first, got %s", result.MoodData[0].ConversationID)
	}
}

func TestAnalyzeMessageMoodOverridesConversation(t *testing.T) {
	convs := []chat.Conversation{
		conversation("a", mood.Tired, base, mood.Excited, "", mood.Excited),
	}

	result := Analyze(convs, Filter{})
	if got := *result.MoodStats.MostFrequent; got != mood.Excited {
		t.Fatalf("expected excited, got %s", got)
	}
	if result.MoodData[1].Mood != mood.Tired || result.MoodData[1].Score != 0.5 {
		t.Fatalf("expected fallback to conversation mood, got %+v", result.MoodData[1])
	}
}

func TestAnalyzeUnknownMoodFallsBack(t *testing.T) {
	convs := []chat.Conversation{conversation("a", mood.Happy, base, mood.Mood("elated"))}

	result := Analyze(convs, Filter{})
	if result.MoodData[0].Mood != mood.Peaceful || result.MoodData[0].Score != 0.6 {
		t.Fatalf("unexpected point %+v", result.MoodData[0])
	}
}

func TestAnalyzeFilterSince(t *testing.T) {
	convs := []chat.Conversation{
		conversation("old", mood.Sad, base.AddDate(0, 0, -30), ""),
		conversation("new", mood.Happy, base, ""),
	}

	filter, err := ParseRange("week", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ParseRange err: %v", err)
	}
	result := Analyze(convs, filter)
	if len(result.MoodData) != 1 || result.MoodData[0].ConversationID != "new" {
		t.Fatalf("unexpected filtered data %+v", result.MoodData)
	}
}

func TestParseRange(t *testing.T) {
	now := base
	cases := map[string]time.Time{
		"":      {},
		"all":   {},
		"week":  now.AddDate(0, 0, -7),
		"Month": now.AddDate(0, -1, 0),
		"year":  now.AddDate(-1, 0, 0),
	}
	for raw, want := range cases {
		filter, err := ParseRange(raw, now)
		if err != nil {
			t.Fatalf("ParseRange(%q) err: %v", raw, err)
		}
		if !filter.Since.Equal(want) {
			t.Fatalf("ParseRange(%q) = %v, want %v", raw, filter.Since, want)
		}
	}
	if _, err := ParseRange("decade", now); err == nil {
		t.Fatal("expected error for unsupported range")
	}
}
