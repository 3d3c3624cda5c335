package sites

import "sync/atomic"

// userAgents is the rotation pool handed to browser contexts. Desktop Chrome
// and Firefox strings; bot protection beyond rotation and pacing is out of
// scope.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.5; rv:127.0) Gecko/20100101 Firefox/127.0",
}

var uaCounter atomic.Uint64

// NextUserAgent returns the next user agent in round-robin order. Safe for
// concurrent use.
func NextUserAgent() string {
	n := uaCounter.Add(1)
	return userAgents[int(n-1)%len(userAgents)]
}

// UserAgents returns a copy of the rotation pool.
func UserAgents() []string {
	out := make([]string, len(userAgents))
	copy(out, userAgents)
	return out
}
