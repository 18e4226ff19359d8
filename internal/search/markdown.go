package search

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// LoadMarkdownTopics reads a knowledge-base Markdown file. See
// ParseMarkdownTopics for the format.
func LoadMarkdownTopics(path string) ([]Doc, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMarkdownTopics(f)
}

// ParseMarkdownTopics splits Markdown into topic passages. Every heading
// (any level) starts a new topic named after the heading text; blank lines
// separate passages within a topic. Table rows are flattened into one
// passage each and separator rows are dropped. Text before the first heading
// belongs to the "general" topic.
func ParseMarkdownTopics(r io.Reader) ([]Doc, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		docs  []Doc
		topic = "general"
		para  []string
	)
	flush := func() {
		if len(para) > 0 {
			docs = append(docs, Doc{Topic: topic, Text: strings.Join(para, " ")})
			para = para[:0]
		}
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
			flush()
			if h := strings.TrimSpace(strings.TrimLeft(line, "#")); h != "" {
				topic = h
			}
		case strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|"):
			flush()
			if row := tableRow(line); row != "" {
				docs = append(docs, Doc{Topic: topic, Text: row})
			}
		default:
			para = append(para, strings.TrimLeft(line, "-*• "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return docs, nil
}

// tableRow joins the non-empty cells of a Markdown table row; separator
// rows ("|---|:--:|") yield "".
func tableRow(line string) string {
	cells := strings.Split(strings.Trim(line, "|"), "|")
	out := make([]string, 0, len(cells))
	sep := true
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if strings.Trim(c, ":- ") != "" {
			sep = false
		}
		if c != "" {
			out = append(out, c)
		}
	}
	if sep {
		return ""
	}
	return strings.Join(out, " ")
}
