package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// CurrentSrc picks the source an <img> would load: the largest srcset
// candidate when a srcset is present, otherwise src. The result is resolved
// against the document base URL.
func (d *Document) CurrentSrc(img *html.Node) string {
	if srcset, ok := Attr(img, "srcset"); ok {
		if best := bestCandidate(srcset); best != "" {
			return d.ResolveURL(best)
		}
	}
	src, _ := Attr(img, "src")
	return d.ResolveURL(src)
}

func bestCandidate(srcset string) string {
	best := ""
	bestScore := -1.0
	for _, cand := range splitSrcset(srcset) {
		fields := strings.Fields(cand)
		if len(fields) == 0 {
			continue
		}
		score := 1.0
		if len(fields) > 1 {
			desc := strings.ToLower(fields[1])
			num := desc[:len(desc)-1]
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				continue
			}
			switch desc[len(desc)-1] {
			case 'w', 'x':
				score = v
			default:
				continue
			}
		}
		if score > bestScore {
			best, bestScore = fields[0], score
		}
	}
	return best
}

// splitSrcset splits on candidate separators. Commas inside data: URLs are
// part of the URL, so a comma only separates when followed by whitespace or
// when the current candidate already has a descriptor.
func splitSrcset(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != ',' {
			continue
		}
		cur := strings.TrimSpace(s[start:i])
		if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\t' && s[i+1] != '\n' && !strings.ContainsAny(cur, " \t\n") {
			continue
		}
		out = append(out, cur)
		start = i + 1
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
