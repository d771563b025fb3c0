package chunker_test

import (
	"testing"

	"github.com/phantomstate/phantomstate/pkg/chunker"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		granularity chunker.Granularity
		want        []string
	}{
		{
			name:        "sentences split on terminal punctuation",
			text:        "The dragon woke. Did it see us? Run!",
			granularity: chunker.Sentence,
			want:        []string{"The dragon woke.", "Did it see us?", "Run!"},
		},
		{
			name:        "abbrev-free ellipsis stays in one sentence run",
			text:        "It waited... Then it moved.",
			granularity: chunker.Sentence,
			want:        []string{"It waited...", "Then it moved."},
		},
		{
			name:        "trailing quote stays with its sentence",
			text:        `"Halt!" she cried. The gate closed.`,
			granularity: chunker.Sentence,
			want:        []string{`"Halt!"`, "she cried.", "The gate closed."},
		},
		{
			name:        "paragraphs split on blank lines",
			text:        "First block\nstill first.\n\nSecond block.\n\n\nThird.",
			granularity: chunker.Paragraph,
			want:        []string{"First block\nstill first.", "Second block.", "Third."},
		},
		{
			name:        "crlf paragraphs",
			text:        "one\r\n\r\ntwo",
			granularity: chunker.Paragraph,
			want:        []string{"one", "two"},
		},
		{
			name:        "pages split on form feed",
			text:        "page one\fpage two\fpage three",
			granularity: chunker.Page,
			want:        []string{"page one", "page two", "page three"},
		},
		{
			name:        "manual keeps everything",
			text:        "all of it.\n\nEven this.",
			granularity: chunker.Manual,
			want:        []string{"all of it.\n\nEven this."},
		},
		{
			name:        "whitespace-only yields nothing",
			text:        "   \n\n\t  ",
			granularity: chunker.Paragraph,
			want:        []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := chunker.Split(tt.text, tt.granularity)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Split: got %q, want %q", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("Split[%d]: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}

	t.Run("unknown granularity", func(t *testing.T) {
		t.Parallel()
		if _, err := chunker.Split("text", chunker.Granularity("chapter")); err == nil {
			t.Fatal("Split with unknown granularity: expected error")
		}
	})
}

func TestGranularityIsValid(t *testing.T) {
	t.Parallel()

	for _, g := range []chunker.Granularity{chunker.Sentence, chunker.Paragraph, chunker.Page, chunker.Manual} {
		if !g.IsValid() {
			t.Errorf("%q should be valid", g)
		}
	}
	for _, g := range []chunker.Granularity{"", "chapter", "beat"} {
		if g.IsValid() {
			t.Errorf("%q should be invalid", g)
		}
	}
}
