package acquire

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// bookmarkEnd is the sentinel the upstream API returns when pagination is
// exhausted.
const bookmarkEnd = "-end-"

// apiPage is one decoded page of search results: the raw records plus the
// opaque cursor for the next call. The cursor is echoed back verbatim and
// never interpreted.
type apiPage struct {
	records  []map[string]any
	bookmark string
}

// buildAPIRequest produces the request URL and headers for one page, derived
// from the captured credentials. The captured request's data template is
// cloned and only query, bookmarks and page_size are overridden.
func buildAPIRequest(creds *pin.Credentials, keyword, bookmark string, pageSize int) (string, http.Header, error) {
	base, err := url.Parse(creds.APIURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse captured api url: %w", err)
	}

	options := map[string]any{}
	if tmpl, ok := creds.DataTemplate["options"].(map[string]any); ok {
		for k, v := range tmpl {
			options[k] = v
		}
	}
	options["query"] = keyword
	options["page_size"] = pageSize
	if bookmark != "" {
		options["bookmarks"] = []string{bookmark}
	} else {
		delete(options, "bookmarks")
	}
	data := map[string]any{"options": options, "context": map[string]any{}}
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", nil, fmt.Errorf("encode request data: %w", err)
	}

	q := url.Values{}
	q.Set("source_url", "/search/pins/?q="+url.QueryEscape(keyword)+"&rs=typed")
	q.Set("data", string(encoded))
	base.RawQuery = q.Encode()

	headers := http.Header{}
	for k, vs := range creds.Headers {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	if len(creds.Cookies) > 0 {
		pairs := make([]string, 0, len(creds.Cookies))
		for name, value := range creds.Cookies {
			pairs = append(pairs, name+"="+value)
		}
		headers.Set("Cookie", strings.Join(pairs, "; "))
	}
	headers.Set("Accept", "application/json")
	return base.String(), headers, nil
}

// parseAPIResponse decodes one page body. It tolerates both response shapes
// the upstream has used: records under resource_response.data.results or
// directly under resource_response.data.
func parseAPIResponse(body []byte) (apiPage, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiPage{}, fmt.Errorf("decode api response: %w", err)
	}

	page := apiPage{}
	rr, _ := payload["resource_response"].(map[string]any)
	if rr == nil {
		return page, nil
	}

	var rawRecords []any
	switch data := rr["data"].(type) {
	case []any:
		rawRecords = data
	case map[string]any:
		if results, ok := data["results"].([]any); ok {
			rawRecords = results
		}
	}
	for _, r := range rawRecords {
		if m, ok := r.(map[string]any); ok {
			page.records = append(page.records, m)
		}
	}

	switch b := rr["bookmark"].(type) {
	case string:
		page.bookmark = b
	case []any:
		if len(b) > 0 {
			if s, ok := b[0].(string); ok {
				page.bookmark = s
			}
		}
	}
	if page.bookmark == "" {
		if bs, ok := payload["bookmarks"].([]any); ok && len(bs) > 0 {
			if s, ok := bs[0].(string); ok {
				page.bookmark = s
			}
		}
	}
	return page, nil
}

// exhausted reports whether the cursor says pagination is over.
func (p apiPage) exhausted() bool {
	return p.bookmark == "" || p.bookmark == bookmarkEnd
}
