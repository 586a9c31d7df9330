package download

import (
	"math/rand"
	"net/http"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:92.0) Gecko/20100101 Firefox/92.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36",
}

var acceptTypes = []string{
	"image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
	"image/webp,image/png,image/svg+xml,image/*;q=0.8,video/*;q=0.8,*/*;q=0.5",
	"image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.9,zh-CN;q=0.8,zh;q=0.7",
	"en-GB,en;q=0.9",
	"en-CA,en;q=0.9,fr-CA;q=0.8,fr;q=0.7",
}

// RandomHeaders builds a plausible browser image request. Rotating these
// across attempts lowers the odds of the CDN fingerprinting the client.
func RandomHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	h.Set("Accept", acceptTypes[rand.Intn(len(acceptTypes))])
	h.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))])
	h.Set("Referer", "https://www.pinterest.com/")
	h.Set("sec-ch-ua", `"Google Chrome";v="107", "Chromium";v="107"`)
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("sec-fetch-dest", "image")
	h.Set("sec-fetch-mode", "no-cors")
	h.Set("sec-fetch-site", "cross-site")
	return h
}
