package chunk

import (
	"regexp"

	"gopkg.in/yaml.v3"
)

// frontMatterPattern matches a leading `---\n...\n---` fenced block.
var frontMatterPattern = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n?`)

// StripFrontMatter removes a leading front-matter block from content, if
// present, and parses it into a FrontMatter mapping. When no front-matter
// block is present, it returns a nil FrontMatter and the content unchanged.
func StripFrontMatter(content string) (FrontMatter, string, error) {
	match := frontMatterPattern.FindStringSubmatchIndex(content)
	if match == nil {
		return nil, content, nil
	}

	raw := content[match[2]:match[3]]
	body := content[match[1]:]

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, content, err
	}

	return FrontMatter(normalizeFrontMatter(parsed)), body, nil
}

// normalizeFrontMatter coerces yaml.v3's decoded types (map[string]any with
// possible []any sequences) into the mapping's accepted value shapes:
// string, number, boolean, or list-of-strings.
func normalizeFrontMatter(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case []any:
			strs := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok {
					strs = append(strs, s)
				}
			}
			out[k] = strs
		case int:
			out[k] = float64(val)
		default:
			out[k] = v
		}
	}
	return out
}
