package speakers

import (
	"reflect"
	"testing"

	"speakerscribe/internal/transcript"
)

func word(text string, start, end float64) transcript.Word {
	return transcript.Word{Text: text, Start: start, End: end}
}

func TestAssignMaximalOverlap(t *testing.T) {
	segments := []transcript.Segment{{
		Start: 0, End: 4, Text: "one two three", Aligned: true,
		Words: []transcript.Word{word("one", 0, 1), word("two", 1.5, 2.5), word("three", 3, 4)},
	}}
	turns := []transcript.Turn{
		{Start: 2.2, End: 5, Speaker: "SPEAKER_01"},
		{Start: 0, End: 2.2, Speaker: "SPEAKER_00"},
	}
	out := Assign(segments, turns)
	if len(out) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(out))
	}
	got := []string{out[0].Words[0].Speaker, out[0].Words[1].Speaker, out[0].Words[2].Speaker}
	want := []string{"SPEAKER_00", "SPEAKER_00", "SPEAKER_01"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("word speakers = %v, want %v", got, want)
	}
	if out[0].Speaker != "SPEAKER_00" {
		t.Fatalf("expected majority SPEAKER_00, got %s", out[0].Speaker)
	}
	if segments[0].Words[0].Speaker != "" {
		t.Fatal("input segments were mutated")
	}
}

func TestAssignTieBreakPrefersClosestStart(t *testing.T) {
	// Both turns overlap the word by 1s and start 1s away from it.
	segments := []transcript.Segment{{Start: 1, End: 3, Text: "x", Aligned: true, Words: []transcript.Word{word("x", 1, 3)}}}
	turns := []transcript.Turn{
		{Start: 0, End: 2, Speaker: "A"},
		{Start: 2, End: 4, Speaker: "B"},
	}
	if got := Assign(segments, turns)[0].Speaker; got != "A" {
		t.Fatalf("expected A (start gap 1 vs 1, earlier turn wins), got %s", got)
	}
	turns = []transcript.Turn{
		{Start: 0.5, End: 2.5, Speaker: "A"},
		{Start: 1, End: 2, Speaker: "B"},
	}
	if got := Assign(segments, turns)[0].Speaker; got != "A" {
		t.Fatalf("expected larger overlap A, got %s", got)
	}
	turns = []transcript.Turn{
		{Start: 0, End: 1.5, Speaker: "A"},
		{Start: 1, End: 1.5, Speaker: "B"},
		{Start: 2.5, End: 4, Speaker: "C"},
	}
	if got := Assign(segments, turns)[0].Speaker; got != "B" {
		t.Fatalf("expected B whose start matches the word start, got %s", got)
	}
}

func TestAssignNearestTurnWithoutOverlap(t *testing.T) {
	segments := []transcript.Segment{{Start: 5, End: 6, Text: "late", Aligned: true, Words: []transcript.Word{word("late", 5, 6)}}}
	turns := []transcript.Turn{
		{Start: 0, End: 2, Speaker: "A"},
		{Start: 7, End: 9, Speaker: "B"},
	}
	if got := Assign(segments, turns)[0].Speaker; got != "B" {
		t.Fatalf("expected nearest turn B, got %s", got)
	}
	turns = []transcript.Turn{
		{Start: 0, End: 4, Speaker: "A"},
		{Start: 7, End: 9, Speaker: "B"},
	}
	if got := Assign(segments, turns)[0].Speaker; got != "A" {
		t.Fatalf("expected equal gap to go to earlier turn A, got %s", got)
	}
}

func TestAssignWithoutTurnsIsUnknown(t *testing.T) {
	segments := transcript.Normalize([]transcript.Segment{
		{Start: 0, End: 1, Text: "hi there", Aligned: true, Words: []transcript.Word{word("hi", 0, 0.4), word("there", 0.5, 1)}},
		{Start: 2, End: 3, Text: "bye"},
	}, 4)
	out := Assign(segments, nil)
	if len(out) != 2 {
		t.Fatalf("expected silence dropped, got %d segments", len(out))
	}
	for _, seg := range out {
		if seg.Speaker != transcript.Unknown {
			t.Fatalf("expected UNKNOWN segment, got %s", seg.Speaker)
		}
		for _, w := range seg.Words {
			if w.Speaker != transcript.Unknown {
				t.Fatalf("expected UNKNOWN word, got %s", w.Speaker)
			}
		}
	}
}

func TestAssignUnalignedUsesSegmentInterval(t *testing.T) {
	segments := []transcript.Segment{{
		Start: 0, End: 4, Text: "a b",
		Words: []transcript.Word{word("a", 0, 4), word("b", 0, 4)},
	}}
	turns := []transcript.Turn{{Start: 0, End: 1, Speaker: "A"}, {Start: 1, End: 4, Speaker: "B"}}
	out := Assign(segments, turns)
	if out[0].Speaker != "B" || out[0].Words[0].Speaker != "B" || out[0].Words[1].Speaker != "B" {
		t.Fatalf("expected all B, got %+v", out[0])
	}
}

func TestAssignMajorityTieGoesToFirstLabel(t *testing.T) {
	segments := []transcript.Segment{{
		Start: 0, End: 2, Text: "a b", Aligned: true,
		Words: []transcript.Word{word("a", 0, 1), word("b", 1, 2)},
	}}
	turns := []transcript.Turn{{Start: 1, End: 2, Speaker: "B"}, {Start: 0, End: 1, Speaker: "A"}}
	if got := Assign(segments, turns)[0].Speaker; got != "A" {
		t.Fatalf("expected first occurring label A, got %s", got)
	}
}

func TestAssignIsDeterministic(t *testing.T) {
	segments := []transcript.Segment{{
		Start: 0, End: 3, Text: "a b c", Aligned: true,
		Words: []transcript.Word{word("a", 0, 1), word("b", 1, 2), word("c", 2, 3)},
	}}
	turns := []transcript.Turn{
		{Start: 0, End: 1.5, Speaker: "X"},
		{Start: 1.5, End: 3, Speaker: "Y"},
		{Start: 1, End: 2, Speaker: "Z"},
	}
	first := Assign(segments, turns)
	reversed := []transcript.Turn{turns[2], turns[1], turns[0]}
	second := Assign(segments, reversed)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("assignment depends on turn order:\n%+v\n%+v", first, second)
	}
}
