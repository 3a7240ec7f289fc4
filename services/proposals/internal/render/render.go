// Package render produces the immutable content snapshot a proposal
// carries from send time on. Rendering happens exactly once, at send;
// template edits afterwards never reach a sent proposal.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"sort"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Snapshot is the rendered, frozen proposal content.
type Snapshot struct {
	Content     string
	ContentHash string
}

// Render substitutes {{placeholder}} variables into the template body. Any
// placeholder without a value blocks the send; the sorted list of missing
// keys is returned instead of a partial snapshot.
func Render(templateBody string, values map[string]string) (Snapshot, []string) {
	missingSet := map[string]struct{}{}
	raw := placeholderRE.ReplaceAllStringFunc(templateBody, func(m string) string {
		match := placeholderRE.FindStringSubmatch(m)
		if len(match) != 2 {
			return ""
		}
		key := match[1]
		if v, ok := values[key]; ok {
			return v
		}
		missingSet[key] = struct{}{}
		return ""
	})

	if len(missingSet) > 0 {
		missing := make([]string, 0, len(missingSet))
		for k := range missingSet {
			missing = append(missing, k)
		}
		sort.Strings(missing)
		return Snapshot{}, missing
	}

	content := NormalizeText(raw)
	return Snapshot{Content: content, ContentHash: ContentHash(content)}, nil
}

// Placeholders lists the distinct variable keys a template body references,
// sorted.
func Placeholders(templateBody string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderRE.FindAllStringSubmatch(templateBody, -1) {
		if len(m) == 2 {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func NormalizeText(in string) string {
	s := strings.ReplaceAll(in, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}

// ContentHash ties the stored snapshot to its bytes; the hash is written to
// the proposal row and echoed in the sent event.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ToSafeHTML converts a snapshot to escaped paragraph markup for the
// anonymous web view.
func ToSafeHTML(content string) string {
	trimmed := strings.TrimSuffix(content, "\n")
	if strings.TrimSpace(trimmed) == "" {
		return "<p></p>\n"
	}
	paragraphs := strings.Split(trimmed, "\n\n")
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		escaped := html.EscapeString(p)
		escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
		out = append(out, "<p>"+escaped+"</p>")
	}
	return strings.Join(out, "\n") + "\n"
}
