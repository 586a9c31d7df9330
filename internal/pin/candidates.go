package pin

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// originalMarker is the CDN path segment that serves the full-resolution
// asset.
const originalMarker = "originals"

var sizeSegmentRe = regexp.MustCompile(`/\d+x\d*/`)

// fallbackSizes are the sized variants tried, best first, when the
// full-resolution URL is rejected.
var fallbackSizes = []string{"1200x", "736x", "564x", "474x"}

// sizeScore converts a size label ("original", "736", "236x414") into a
// comparable score. original outranks any finite size; a missing height is
// estimated as 1.5x the width.
func sizeScore(label string) float64 {
	label = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(label), "x"))
	if label == "original" || label == originalMarker || label == "largest" {
		return math.Inf(1)
	}
	parts := strings.SplitN(label, "x", 2)
	width, err := strconv.Atoi(parts[0])
	if err != nil || width <= 0 {
		return 0
	}
	height := 0
	if len(parts) == 2 {
		height, _ = strconv.Atoi(parts[1])
	}
	if height <= 0 {
		return float64(width) * float64(width) * 1.5
	}
	return float64(width) * float64(height)
}

// ResolveCandidates builds the deduplicated, priority-ordered URL list for
// one pin's asset. The result is the task's fixed attempt order: it is never
// re-sorted mid-task and candidates are tried strictly sequentially.
func ResolveCandidates(imageURLs map[string]string, largest string) []string {
	type candidate struct {
		url   string
		score float64
	}
	labels := make([]string, 0, len(imageURLs))
	for label := range imageURLs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	candidates := make([]candidate, 0, len(imageURLs)+1)
	if largest != "" {
		score := math.Inf(1)
		if !strings.Contains(largest, "/"+originalMarker+"/") {
			if m := sizeSegmentRe.FindString(largest); m != "" {
				score = sizeScore(strings.Trim(m, "/"))
			}
		}
		candidates = append(candidates, candidate{url: largest, score: score})
	}
	for _, label := range labels {
		u := imageURLs[label]
		if u == "" {
			continue
		}
		candidates = append(candidates, candidate{url: u, score: sizeScore(label)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.url]; dup {
			continue
		}
		seen[c.url] = struct{}{}
		out = append(out, c.url)
	}
	return out
}

// OriginalURL rewrites a sized CDN path segment (/<w>x/ or /<w>x<h>/) to the
// full-resolution form. URLs without a size segment pass through unchanged.
func OriginalURL(imageURL string) string {
	if imageURL == "" || strings.Contains(imageURL, "/"+originalMarker+"/") {
		return imageURL
	}
	if sizeSegmentRe.MatchString(imageURL) {
		return sizeSegmentRe.ReplaceAllString(imageURL, "/"+originalMarker+"/")
	}
	return imageURL
}

// ExpandFallbacks returns imageURL plus sized fallbacks, best first, deduped
// while preserving order. The full-resolution form always leads.
func ExpandFallbacks(imageURL string) []string {
	if imageURL == "" {
		return nil
	}
	urls := make([]string, 0, len(fallbackSizes)+2)
	original := OriginalURL(imageURL)
	urls = append(urls, original)
	if strings.Contains(original, "/"+originalMarker+"/") {
		for _, size := range fallbackSizes {
			urls = append(urls, strings.Replace(original, "/"+originalMarker+"/", "/"+size+"/", 1))
		}
	}
	if imageURL != original {
		urls = append(urls, imageURL)
	}

	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
