package acquire

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

func testCreds() *pin.Credentials {
	return &pin.Credentials{
		APIURL: "https://www.pinterest.com/resource/BaseSearchResource/get/?source_url=old&data=old",
		Headers: http.Header{
			"X-Requested-With": []string{"XMLHttpRequest"},
		},
		Cookies: map[string]string{"_pinterest_sess": "abc123"},
		DataTemplate: map[string]any{
			"options": map[string]any{
				"field_set_key": "unauth_react",
				"query":         "old query",
			},
		},
	}
}

func TestBuildAPIRequest(t *testing.T) {
	t.Parallel()

	reqURL, headers, err := buildAPIRequest(testCreds(), "vintage posters", "BOOKMARK1", 25)
	require.NoError(t, err)

	u, err := url.Parse(reqURL)
	require.NoError(t, err)
	require.Equal(t, "www.pinterest.com", u.Host)
	require.Equal(t, "/resource/BaseSearchResource/get/", u.Path)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(u.Query().Get("data")), &data))
	opts := data["options"].(map[string]any)
	require.Equal(t, "vintage posters", opts["query"])
	require.Equal(t, float64(25), opts["page_size"])
	require.Equal(t, []any{"BOOKMARK1"}, opts["bookmarks"])
	// template fields survive the override
	require.Equal(t, "unauth_react", opts["field_set_key"])

	require.Equal(t, "XMLHttpRequest", headers.Get("X-Requested-With"))
	require.Contains(t, headers.Get("Cookie"), "_pinterest_sess=abc123")
}

func TestBuildAPIRequestFirstPageHasNoBookmark(t *testing.T) {
	t.Parallel()

	reqURL, _, err := buildAPIRequest(testCreds(), "cats", "", 25)
	require.NoError(t, err)

	u, err := url.Parse(reqURL)
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(u.Query().Get("data")), &data))
	opts := data["options"].(map[string]any)
	_, hasBookmarks := opts["bookmarks"]
	require.False(t, hasBookmarks)
}

func TestParseAPIResponseResultsShape(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"resource_response": {
			"data": {"results": [{"id": "1"}, {"id": "2"}]},
			"bookmark": "NEXT"
		}
	}`)
	page, err := parseAPIResponse(body)
	require.NoError(t, err)
	require.Len(t, page.records, 2)
	require.Equal(t, "NEXT", page.bookmark)
	require.False(t, page.exhausted())
}

func TestParseAPIResponseArrayShape(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"resource_response": {
			"data": [{"id": "1"}],
			"bookmark": ["NEXT2"]
		}
	}`)
	page, err := parseAPIResponse(body)
	require.NoError(t, err)
	require.Len(t, page.records, 1)
	require.Equal(t, "NEXT2", page.bookmark)
}

func TestParseAPIResponseEndSentinel(t *testing.T) {
	t.Parallel()

	body := []byte(`{"resource_response": {"data": {"results": []}, "bookmark": "-end-"}}`)
	page, err := parseAPIResponse(body)
	require.NoError(t, err)
	require.Empty(t, page.records)
	require.True(t, page.exhausted())
}

func TestParseAPIResponseGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseAPIResponse([]byte("<html>blocked</html>"))
	require.Error(t, err)

	page, err := parseAPIResponse([]byte(`{"unexpected": true}`))
	require.NoError(t, err)
	require.Empty(t, page.records)
	require.True(t, page.exhausted())
}

func TestChooseStrategy(t *testing.T) {
	t.Parallel()

	require.Equal(t, StrategyScroll, ChooseStrategy(50, 100, 1000))
	require.Equal(t, StrategyDeepScroll, ChooseStrategy(100, 100, 1000))
	require.Equal(t, StrategyDeepScroll, ChooseStrategy(999, 100, 1000))
	require.Equal(t, StrategyHybrid, ChooseStrategy(1000, 100, 1000))
	require.Equal(t, StrategyHybrid, ChooseStrategy(5000, 100, 1000))
}
