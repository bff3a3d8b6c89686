package qcollab

import (
	"fmt"
	"net/url"
	"strings"
)

// resolveDialAddr turns a server URL into the "host:port" QUIC dial target.
// The logical room address is ${baseUrl}/collab/${roomName}, but the room
// name travels as a handshake frame rather than a URL path (see
// DESIGN.md), so only the authority is needed here.
func resolveDialAddr(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("qcollab: invalid server url %q: %w", serverURL, err)
	}
	host := u.Host
	if host == "" {
		// bare host:port with no scheme
		host = strings.TrimPrefix(serverURL, "//")
	}
	if !strings.Contains(host, ":") {
		return "", fmt.Errorf("qcollab: server url %q has no port", serverURL)
	}
	return host, nil
}

// endpoint composes the logical room URL exposed for introspection
// ("/collab/{room}"), including any caller-supplied query params. It is
// never dialed directly; resolveDialAddr is.
func endpoint(serverURL, room string, params map[string][]string) string {
	base := strings.TrimRight(serverURL, "/")
	u := fmt.Sprintf("%s/collab/%s", base, url.PathEscape(room))
	if len(params) == 0 {
		return u
	}
	q := make(url.Values, len(params))
	for k, vs := range params {
		q[k] = vs
	}
	return u + "?" + q.Encode()
}
