package mood

import "testing"

func TestLookupKnownMoods(t *testing.T) {
	cases := map[Mood]float64{
		Happy:    1.0,
		Excited:  0.8,
		Peaceful: 0.6,
		Confused: 0.4,
		Anxious:  0.3,
		Sad:      0.2,
		Angry:    0.1,
		Tired:    0.5,
	}

	for m, want := range cases {
		entry := Lookup(string(m))
		if entry.Mood != m {
			t.Fatalf("lookup %s returned entry for %s", m, entry.Mood)
		}
		if entry.Score != want {
			t.Fatalf("score for %s: got %v want %v", m, entry.Score, want)
		}
		if Temperature(string(m)) != want {
			t.Fatalf("temperature for %s: got %v want %v", m, Temperature(string(m)), want)
		}
		if entry.Prompt == "" {
			t.Fatalf("empty prompt for %s", m)
		}
	}
}

func TestUnknownMoodFallsBackToPeaceful(t *testing.T) {
	peaceful := Lookup("peaceful")
	for _, raw := range []string{"", "grumpy", "  ", "HAPPYISH"} {
		got := Lookup(raw)
		if got != peaceful {
			t.Fatalf("lookup %q: got %+v want peaceful entry", raw, got)
		}
		if Prompt(raw) != peaceful.Prompt {
			t.Fatalf("prompt %q did not fall back", raw)
		}
		if Temperature(raw) != peaceful.Score {
			t.Fatalf("temperature %q did not fall back", raw)
		}
	}
}

func TestParseIsCaseInsensitive(t *testing.T) {
	m, ok := Parse("  Anxious ")
	if !ok || m != Anxious {
		t.Fatalf("expected anxious, got %q ok=%v", m, ok)
	}
	if _, ok := Parse("bored"); ok {
		t.Fatal("expected unknown mood to fail parsing")
	}
}

func TestTableIsTotal(t *testing.T) {
	if len(All()) != 8 || len(Entries()) != 8 {
		t.Fatalf("expected 8 moods, got %d/%d", len(All()), len(Entries()))
	}
	for _, m := range All() {
		if _, ok := Parse(string(m)); !ok {
			t.Fatalf("mood %s missing from table", m)
		}
	}
}

func TestSystemPromptPrefix(t *testing.T) {
	got := SystemPrompt("sad")
	want := CoachPreamble + Prompt("sad")
	if got != want {
		t.Fatalf("unexpected system prompt: %q", got)
	}
}
