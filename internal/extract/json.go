package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

var embeddedJSONRes = []*regexp.Regexp{
	regexp.MustCompile(`data-test-pin-info='(.*?)'`),
	regexp.MustCompile(`data-pin-json='(.*?)'`),
	regexp.MustCompile(`"pin":\s*(\{.*?\})`),
}

// embeddedJSON finds the first parseable pin JSON blob in a tile's markup.
func embeddedJSON(html string) map[string]any {
	for _, re := range embeddedJSONRes {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			var data map[string]any
			if err := json.Unmarshal([]byte(m[1]), &data); err == nil {
				return data
			}
		}
	}
	return nil
}

// FromAPI converts one search-API result record into a pin.
func FromAPI(record map[string]any) pin.Pin {
	return Enrich(pin.Pin{}, record)
}

// Enrich overlays fields from a pin JSON record onto base. Fields absent
// from the record keep their base values; the full record is retained as
// RawData.
func Enrich(base pin.Pin, data map[string]any) pin.Pin {
	p := base

	urls := map[string]string{}
	for k, v := range p.ImageURLs {
		urls[k] = v
	}
	if images, ok := data["images"].(map[string]any); ok {
		for sizeKey, entry := range images {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			u := asString(m["url"])
			if u == "" {
				continue
			}
			if sizeKey == "orig" {
				urls["original"] = u
			} else {
				urls[strings.TrimSuffix(sizeKey, "x")] = u
			}
		}
	}
	for _, key := range []string{"contentUrl", "image"} {
		if src := imageSource(data[key]); src != "" {
			for k, v := range SrcMap(src) {
				urls[k] = v
			}
		}
	}
	switch thumbs := data["thumbnailUrl"].(type) {
	case string:
		for k, v := range SrcMap(thumbs) {
			urls[k] = v
		}
	case []any:
		for _, t := range thumbs {
			if s, ok := t.(string); ok {
				for k, v := range SrcMap(s) {
					urls[k] = v
				}
			}
		}
	}
	if len(urls) > 0 {
		p.ImageURLs = urls
		if candidates := pin.ResolveCandidates(urls, ""); len(candidates) > 0 {
			p.LargestImageURL = candidates[0]
		}
	}

	if id := asString(data["id"]); id != "" {
		p.ID = id
		if p.URL == "" {
			p.URL = "https://www.pinterest.com/pin/" + id + "/"
		}
	}
	if v, ok := data["url"].(string); ok && v != "" {
		p.URL = v
	}
	if v, ok := data["description"].(string); ok {
		p.Description = v
	}
	if v, ok := data["title"].(string); ok && v != "" {
		p.Title = v
	}
	if v, ok := data["grid_title"].(string); ok && p.Title == "" {
		p.Title = v
	}
	if v, ok := data["link"].(string); ok {
		p.SourceLink = v
	}

	creatorSrc, _ := data["creator"].(map[string]any)
	if creatorSrc == nil {
		creatorSrc, _ = data["pinner"].(map[string]any)
	}
	if creatorSrc != nil {
		name := asString(creatorSrc["full_name"])
		if name == "" {
			name = asString(creatorSrc["username"])
		}
		if name == "" {
			name = asString(creatorSrc["name"])
		}
		p.Creator = pin.Creator{
			Name:          name,
			Username:      asString(creatorSrc["username"]),
			ID:            asString(creatorSrc["id"]),
			FollowerCount: asInt(creatorSrc["follower_count"]),
			AvatarURL:     asString(creatorSrc["image_medium_url"]),
		}
	}

	stats := pin.Stats{
		Likes:    asInt(data["like_count"]),
		Saves:    asInt(data["repin_count"]),
		Comments: asInt(data["comment_count"]),
	}
	if stats != (pin.Stats{}) {
		p.Stats = stats
	}

	if board, ok := data["board"].(map[string]any); ok {
		b := pin.Board{
			ID:   asString(board["id"]),
			Name: asString(board["name"]),
		}
		if path := strings.TrimPrefix(asString(board["url"]), "/"); path != "" {
			b.URL = "https://www.pinterest.com/" + path
		}
		p.Board = b
		if b.Name != "" {
			parts := strings.Split(b.Name, "/")
			categories := make([]string, 0, len(parts))
			for _, c := range parts {
				if c = strings.TrimSpace(c); c != "" {
					categories = append(categories, c)
				}
			}
			p.Categories = categories
		}
	}
	if cats, ok := data["categories"].([]any); ok {
		categories := make([]string, 0, len(cats))
		for _, c := range cats {
			if s := asString(c); s != "" {
				categories = append(categories, s)
			}
		}
		if len(categories) > 0 {
			p.Categories = categories
		}
	}

	p.RawData = data
	return p
}

// pinsFromPageState extracts pins from the page's embedded Redux state when
// the grid markup yields nothing.
func pinsFromPageState(doc *goquery.Document) []pin.Pin {
	var pins []pin.Pin
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		if !strings.Contains(id, "__PWS_DATA__") && !strings.Contains(id, "initial-state") {
			return true
		}
		var state map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &state); err != nil {
			return true
		}
		props, _ := state["props"].(map[string]any)
		redux, _ := props["initialReduxState"].(map[string]any)
		records, _ := redux["pins"].(map[string]any)
		if len(records) == 0 {
			return true
		}
		for pinID, record := range records {
			m, ok := record.(map[string]any)
			if !ok {
				continue
			}
			p := Enrich(pin.Pin{ID: pinID}, m)
			if p.ID != "" && p.HasImage() {
				pins = append(pins, p)
			}
		}
		return false
	})
	return pins
}

// imageSource unwraps the string-or-object image fields schema.org markup
// uses, accepting only URLs that plausibly point at an image.
func imageSource(v any) string {
	var src string
	switch t := v.(type) {
	case string:
		src = t
	case map[string]any:
		src = asString(t["url"])
	}
	if src == "" || !strings.HasPrefix(src, "http") {
		return ""
	}
	if !strings.Contains(src, "pinimg.com") && !hasImageExt(src) {
		return ""
	}
	return src
}

func hasImageExt(u string) bool {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.Contains(strings.ToLower(u), ext) {
			return true
		}
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}
