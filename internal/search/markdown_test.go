package search

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const kbMarkdown = `Intro text before any heading.

# POTS
- Increase fluids and salt.
- Wear compression.

Second passage about standing tests.

## Medications
| Drug | Use |
|------|:---:|
| Fludrocortisone | volume expansion |
`

func TestParseMarkdownTopics(t *testing.T) {
	docs, err := ParseMarkdownTopics(strings.NewReader(kbMarkdown))
	if err != nil {
		t.Fatalf("ParseMarkdownTopics: %v", err)
	}
	want := []Doc{
		{Topic: "general", Text: "Intro text before any heading."},
		{Topic: "POTS", Text: "Increase fluids and salt. Wear compression."},
		{Topic: "POTS", Text: "Second passage about standing tests."},
		{Topic: "Medications", Text: "Drug Use"},
		{Topic: "Medications", Text: "Fludrocortisone volume expansion"},
	}
	if len(docs) != len(want) {
		t.Fatalf("got %d docs: %+v", len(docs), docs)
	}
	for i := range want {
		if docs[i] != want[i] {
			t.Fatalf("doc[%d] = %+v; want %+v", i, docs[i], want[i])
		}
	}
}

func TestLoadMarkdownTopics(t *testing.T) {
	if _, err := LoadMarkdownTopics(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Fatal("expected error for missing file")
	}
	p := filepath.Join(t.TempDir(), "kb.md")
	if err := os.WriteFile(p, []byte(kbMarkdown), 0o600); err != nil {
		t.Fatal(err)
	}
	docs, err := LoadMarkdownTopics(p)
	if err != nil || len(docs) != 5 {
		t.Fatalf("docs=%d err=%v", len(docs), err)
	}
}

func TestParseMarkdownTopics_LineTooLong(t *testing.T) {
	long := strings.Repeat("x", 5*1024*1024)
	if _, err := ParseMarkdownTopics(strings.NewReader(long)); err == nil {
		t.Fatal("expected scanner error for oversized line")
	}
}

func TestTableRow(t *testing.T) {
	if got := tableRow("| --- | :-: |"); got != "" {
		t.Fatalf("separator row = %q", got)
	}
	if got := tableRow("| a |  | b |"); got != "a b" {
		t.Fatalf("row = %q", got)
	}
}
