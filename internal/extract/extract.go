// Package extract turns rendered search and detail pages into pin records.
// It parses the pin grid with goquery and enriches records from the JSON
// blobs the frontend embeds next to each tile.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// pinSelectors are tried in order; the first one that matches anything wins.
// The grid markup has changed across site revisions, hence the ladder.
var pinSelectors = []string{
	"[data-test-id='pin']",
	"[data-test-id='pinWrapper']",
	"div[data-test-id='pin-card']",
	"div[role='listitem']",
	".Grid__Item",
}

var descriptionSelectors = []string{
	"[data-test-id='pinTitle']",
	"h1",
	"div[class*='title']",
}

var (
	dataPinIDRe   = regexp.MustCompile(`data-pin-id=['"](\d+)['"]`)
	pinPathRe     = regexp.MustCompile(`/pin/(\d+)/?`)
	genericPinRe  = regexp.MustCompile(`pin_id['"]?\s*[:=]\s*['"]?(\d+)['"]?`)
	srcSizeRes    = []*regexp.Regexp{
		regexp.MustCompile(`/(\d+)x/`),
		regexp.MustCompile(`_(\d+)\.jpg`),
		regexp.MustCompile(`-(\d+)\.jpg`),
	}
)

// Pins extracts all pin records from a rendered page. Records without an ID
// or without any image URL are dropped. When the grid yields nothing, the
// page's embedded state JSON is tried as a fallback.
func Pins(html string) ([]pin.Pin, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var elements *goquery.Selection
	for _, sel := range pinSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			elements = s
			break
		}
	}
	if elements == nil {
		elements = doc.Find("div[role='listitem'], div[class*='Grid']")
	}

	var pins []pin.Pin
	elements.Each(func(_ int, s *goquery.Selection) {
		p := parsePin(s)
		if p.ID != "" && p.HasImage() {
			pins = append(pins, p)
		}
	})

	if len(pins) == 0 {
		pins = pinsFromPageState(doc)
	}
	return pins, nil
}

// parsePin builds one record from a grid tile.
func parsePin(s *goquery.Selection) pin.Pin {
	rawHTML, _ := goquery.OuterHtml(s)

	p := pin.Pin{ID: PinID(rawHTML)}
	if p.ID != "" {
		p.URL = "https://www.pinterest.com/pin/" + p.ID + "/"
	}

	img := s.Find("img[srcset], img[src], [data-test-id='pin-image'] img").First()
	if img.Length() > 0 {
		urls := map[string]string{}
		if srcset, ok := img.Attr("srcset"); ok {
			urls = SrcsetMap(srcset)
		}
		if len(urls) == 0 {
			if src, ok := img.Attr("src"); ok {
				urls = SrcMap(src)
			}
		}
		if len(urls) > 0 {
			p.ImageURLs = urls
			if candidates := pin.ResolveCandidates(urls, ""); len(candidates) > 0 {
				p.LargestImageURL = candidates[0]
			}
		}
	}

	for _, sel := range descriptionSelectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			p.Description = text
			break
		}
	}
	if p.Description == "" && img.Length() > 0 {
		for _, attr := range []string{"alt", "title", "aria-label"} {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				p.Description = strings.TrimSpace(v)
				break
			}
		}
	}

	if data := embeddedJSON(rawHTML); data != nil {
		p = Enrich(p, data)
	}
	return p
}

// PinID pulls a numeric pin ID out of a tile's markup, trying the known
// attribute and URL shapes in order.
func PinID(html string) string {
	if m := dataPinIDRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := pinPathRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := genericPinRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// SrcsetMap parses a srcset attribute into a size-label -> URL map.
func SrcsetMap(srcset string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(srcset, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		size := strings.TrimSuffix(fields[len(fields)-1], "x")
		out[size] = fields[0]
	}
	return out
}

// SrcMap derives a size map from a single src URL: the URL itself under its
// embedded size, plus the rewritten full-resolution form when one can be
// derived.
func SrcMap(src string) map[string]string {
	if src == "" {
		return map[string]string{}
	}
	size := "original"
	for _, re := range srcSizeRes {
		if m := re.FindStringSubmatch(src); m != nil {
			size = m[1]
			break
		}
	}
	out := map[string]string{size: src}
	if size != "original" {
		if original := pin.OriginalURL(src); original != src {
			out["original"] = original
		}
	}
	return out
}
