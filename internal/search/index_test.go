package search

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func msgs(texts ...string) []Document {
	out := make([]Document, len(texts))
	for i, t := range texts {
		out[i] = Document{ID: string(rune('a' + i)), Text: t}
	}
	return out
}

func ids(rs []Result) string {
	var b strings.Builder
	for _, r := range rs {
		b.WriteString(r.ID)
	}
	return b.String()
}

func TestTopK_Ranking(t *testing.T) {
	cases := []struct {
		name  string
		docs  []Document
		opts  []Option
		query string
		k     int
		want  string
	}{
		{
			name:  "jaccard orders by word overlap",
			docs:  msgs("see you at the station tomorrow", "station", "nothing relevant here"),
			opts:  []Option{WithSubstringBoost(0)},
			query: "station", k: 5, want: "ba",
		},
		{
			name:  "prefix matches through substring boost",
			docs:  msgs("hello there", "goodbye"),
			query: "hel", k: 5, want: "a",
		},
		{
			name:  "no boost means no prefix match",
			docs:  msgs("hello there"),
			opts:  []Option{WithSubstringBoost(0)},
			query: "hel", k: 5, want: "",
		},
		{
			name:  "ties go to the later message",
			docs:  msgs("lunch plans", "lunch ideas", "lunch maybe"),
			opts:  []Option{WithSubstringBoost(0)},
			query: "lunch", k: 2, want: "cb",
		},
		{
			name:  "unicode case folding",
			docs:  msgs("rendez-vous devant l'ÉCOLE", "rien"),
			query: "école", k: 3, want: "a",
		},
		{
			name:  "stopwords alone never match",
			docs:  msgs("the cat"),
			opts:  []Option{WithStopwords("  The ", ""), WithSubstringBoost(0)},
			query: "the", k: 3, want: "",
		},
		{
			name:  "k defaults when not positive",
			docs:  msgs("ping", "ping", "ping", "ping"),
			query: "ping", k: 0, want: "dcb",
		},
		{
			name:  "blank documents skipped",
			docs:  msgs("  \n ", "ok then"),
			query: "ok", k: 5, want: "b",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := New(tc.docs, tc.opts...).TopK(tc.query, tc.k)
			if ids(got) != tc.want {
				t.Fatalf("TopK(%q) = %q; want %q (%+v)", tc.query, ids(got), tc.want, got)
			}
		})
	}
}

func TestTopK_Scores(t *testing.T) {
	got := New(msgs("want pizza tonight?", "pizza")).TopK("Pizza", 5)
	if len(got) != 2 {
		t.Fatalf("hits = %+v", got)
	}
	if got[0].ID != "b" || got[0].Score != 1.5 {
		t.Fatalf("exact match = %+v; want b at 1.5", got[0])
	}
	if want := 1.0/3 + 0.5; math.Abs(got[1].Score-want) > 1e-9 {
		t.Fatalf("partial score = %v; want %v", got[1].Score, want)
	}
}

func TestTopK_EmptyInputs(t *testing.T) {
	if New(nil).TopK("x", 1) != nil {
		t.Fatal("empty index matched")
	}
	if New(msgs("alpha")).TopK(" \t ", 3) != nil {
		t.Fatal("blank query matched")
	}
}

func TestSnippet(t *testing.T) {
	t.Run("short text is whole and collapsed", func(t *testing.T) {
		got := New(msgs("Meet  at\nNOON")).TopK("meet at noon", 1)
		if len(got) != 1 || got[0].Snippet != "Meet at NOON" {
			t.Fatalf("snippet = %+v", got)
		}
	})

	t.Run("long text is windowed around the match", func(t *testing.T) {
		long := strings.Repeat("filler ", 40) + "the secret word is pineapple " + strings.Repeat("tail ", 40)
		got := New(msgs(long), WithSnippetRunes(40)).TopK("pineapple", 1)
		if len(got) != 1 {
			t.Fatalf("no hit")
		}
		s := got[0].Snippet
		if !strings.Contains(s, "pineapple") || !strings.HasPrefix(s, "…") || !strings.HasSuffix(s, "…") {
			t.Fatalf("snippet = %q", s)
		}
		if n := utf8.RuneCountInString(s); n > 42 {
			t.Fatalf("snippet has %d runes", n)
		}
	})

	t.Run("zero disables windowing", func(t *testing.T) {
		long := strings.Repeat("word ", 100) + "end"
		got := New(msgs(long), WithSnippetRunes(0)).TopK("end", 1)
		if len(got) != 1 || got[0].Snippet != long {
			t.Fatalf("snippet trimmed: %+v", got)
		}
	})
}

func TestJaccardAndWords(t *testing.T) {
	a := words(fold("Room 42 and room b7"), nil)
	for _, w := range []string{"room", "42", "and", "b7"} {
		if _, ok := a[w]; !ok {
			t.Fatalf("word %q missing: %v", w, a)
		}
	}
	b := words(fold("ROOM 42"), nil)
	if got, want := jaccard(a, b), 2.0/4; got != want {
		t.Fatalf("jaccard = %v; want %v", got, want)
	}
	if jaccard(nil, b) != 0 {
		t.Fatal("empty set should score 0")
	}
}
