package classify

import (
	"fmt"
	"net/url"
)

// BuildDeepLink returns a link into the call player positioned at the given
// millisecond offset. The highlights parameter is URL-encoded
// `[{"from":<timestamp>}]`, e.g.
// https://app.gong.io/call?id=12345&highlights=%5B%7B%22from%22%3A4030%7D%5D
func BuildDeepLink(callHost, callID string, timestampMs int64) string {
	highlights := url.QueryEscape(fmt.Sprintf(`[{"from":%d}]`, timestampMs))
	return fmt.Sprintf("%s/call?id=%s&highlights=%s", callHost, url.QueryEscape(callID), highlights)
}
