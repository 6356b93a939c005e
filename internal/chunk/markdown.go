package chunk

import (
	"path/filepath"
	"regexp"
	"strings"
)

// headingPattern matches Markdown heading lines of level 2 or 3 only; §4.2
// sections the document on those levels and leaves level-1/4-6 headings as
// ordinary body text within their enclosing section.
var headingPattern = regexp.MustCompile(`(?m)^(#{2,3})\s+(.+)$`)

// sentenceBoundary splits on the end of a sentence (period/question/bang
// followed by whitespace), keeping the terminator with the preceding clause.
var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

// Options configures the chunker.
type Options struct {
	CharBudget   int
	OverlapChars int
}

func (o Options) withDefaults() Options {
	if o.CharBudget <= 0 {
		o.CharBudget = DefaultCharBudget
	}
	if o.OverlapChars <= 0 {
		o.OverlapChars = DefaultOverlapChars
	}
	return o
}

type section struct {
	level int
	title string
	path  string
	body  string
}

// Chunk splits a Markdown document's raw text into an ordered, bounded,
// context-prefixed sequence of chunks, per §4.2. filePath is used only to
// derive a fallback document title from the filename stem.
func Chunk(filePath string, content string, opts Options) ([]Chunk, FrontMatter, error) {
	opts = opts.withDefaults()

	fm, body, err := StripFrontMatter(content)
	if err != nil {
		return nil, nil, err
	}

	title := documentTitle(fm, filePath)
	sections := splitSections(body, title)

	var chunks []Chunk
	ordinal := 0
	for _, sec := range sections {
		for _, text := range splitSectionBody(sec.body, opts) {
			trimmed := strings.TrimSpace(text)
			if trimmed == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Ordinal:        ordinal,
				Text:           sec.path + "\n" + trimmed,
				SectionContext: sec.path,
			})
			ordinal++
		}
	}

	return chunks, fm, nil
}

func documentTitle(fm FrontMatter, filePath string) string {
	if t, ok := fm.String("title"); ok && t != "" {
		return t
	}
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// splitSections splits body on H2/H3 headings. The tail before the first
// heading becomes its own section titled by the document title.
func splitSections(body, title string) []section {
	matches := headingPattern.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return []section{{level: 0, title: title, path: title, body: body}}
	}

	var sections []section

	if matches[0][0] > 0 {
		lead := body[:matches[0][0]]
		if strings.TrimSpace(lead) != "" {
			sections = append(sections, section{level: 0, title: title, path: title, body: lead})
		}
	}

	// Track the current level-2 heading so level-3 paths nest under it.
	var currentH2 string
	for i, m := range matches {
		level := len(body[m[2]:m[3]])
		text := strings.TrimSpace(body[m[4]:m[5]])

		var path string
		if level == 2 {
			currentH2 = text
			path = title + " | " + text
		} else if currentH2 != "" {
			path = title + " | " + currentH2 + " > " + text
		} else {
			path = title + " | " + text
		}

		start := m[1]
		end := len(body)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections = append(sections, section{level: level, title: text, path: path, body: body[start:end]})
	}

	return sections
}

// splitSectionBody splits a section's body on paragraph breaks, greedily
// merging consecutive paragraphs up to the char budget, and sentence-splits
// any paragraph that by itself exceeds the budget.
func splitSectionBody(body string, opts Options) []string {
	paragraphs := splitParagraphs(body)
	if len(paragraphs) == 0 {
		return nil
	}

	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > opts.CharBudget {
			flush()
			out = append(out, splitOversizedParagraph(para, opts)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > opts.CharBudget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return out
}

func splitParagraphs(body string) []string {
	parts := strings.Split(body, "\n\n")
	var paragraphs []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// splitOversizedParagraph splits a single paragraph on sentence boundaries,
// greedily filling fragments to the char budget with a fixed character
// overlap carried from the tail of one fragment into the start of the next.
func splitOversizedParagraph(para string, opts Options) []string {
	sentences := splitSentences(para)
	if len(sentences) == 0 {
		return nil
	}

	var fragments []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s)+1 > opts.CharBudget {
			fragments = append(fragments, current.String())
			overlap := tailOverlap(current.String(), opts.OverlapChars)
			current.Reset()
			current.WriteString(overlap)
			if current.Len() > 0 {
				current.WriteString(" ")
			}
		}
		current.WriteString(s)
		current.WriteString(" ")
	}
	if strings.TrimSpace(current.String()) != "" {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

func splitSentences(text string) []string {
	locs := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{strings.TrimSpace(text)}
	}

	var sentences []string
	start := 0
	for _, loc := range locs {
		sentences = append(sentences, strings.TrimSpace(text[start:loc[1]]))
		start = loc[1]
	}
	if start < len(text) {
		if tail := strings.TrimSpace(text[start:]); tail != "" {
			sentences = append(sentences, tail)
		}
	}
	return sentences
}

func tailOverlap(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
