// Package discovery builds the metadata documents a debugging frontend
// fetches before it opens a WebSocket to an inspectable target.
package discovery

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ProtocolVersion is the inspector protocol version advertised by
// GetVersionInfo.
const ProtocolVersion = "1.1"

const (
	targetDescription = "node.js instance"
	targetFavicon     = "https://nodejs.org/static/images/favicons/favicon.ico"
	targetTitle       = "inspectrelay"
	targetType        = "node"
	targetURL         = "file://"
)

// VersionInfo is the /json/version document.
type VersionInfo struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
}

// Target describes one debuggable target in the /json/list document.
type Target struct {
	Description               string `json:"description"`
	DevtoolsFrontendURL       string `json:"devtoolsFrontendUrl"`
	DevtoolsFrontendURLCompat string `json:"devtoolsFrontendUrlCompat"`
	FaviconURL                string `json:"faviconUrl"`
	ID                        string `json:"id"`
	Title                     string `json:"title"`
	Type                      string `json:"type"`
	URL                       string `json:"url"`
	WebSocketDebuggerURL      string `json:"webSocketDebuggerUrl"`
}

// GetVersionInfo returns the version document for the given build version.
func GetVersionInfo(version string) VersionInfo {
	return VersionInfo{
		Browser:         "inspectrelay/" + version,
		ProtocolVersion: ProtocolVersion,
	}
}

// ListTargets returns the single target served by this process. host is
// the authority (host[:port]) frontends should dial.
func ListTargets(sessionID, host string) []Target {
	path := host + "/targets/" + sessionID
	return []Target{{
		Description:               targetDescription,
		DevtoolsFrontendURL:       "devtools://devtools/bundled/js_app.html?experiments=true&v8only=true&ws=" + path,
		DevtoolsFrontendURLCompat: "devtools://devtools/bundled/inspector.html?experiments=true&v8only=true&ws=" + path,
		FaviconURL:                targetFavicon,
		ID:                        sessionID,
		Title:                     targetTitle,
		Type:                      targetType,
		URL:                       targetURL,
		WebSocketDebuggerURL:      "ws://" + path,
	}}
}

// NormalizeHost reduces a public address to the host[:port] authority used
// in target URLs.
//
// Accepted input formats:
//   - Host: "relay.example.com" → used as-is
//   - Host and port: "relay.example.com:9229" → used as-is
//   - URL: "http://relay.example.com:9229/" → authority extracted
//
// Empty input is returned as-is.
func NormalizeHost(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if strings.Contains(input, "://") {
		u, err := url.Parse(input)
		if err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimRight(input, "/")
}

// ResolveHost picks the authority advertised to frontends: the configured
// public address, else the Host header of the discovery request, else
// localhost on the listening port.
func ResolveHost(publicAddr, requestHost string, port int) string {
	if h := NormalizeHost(publicAddr); h != "" {
		return h
	}
	if requestHost != "" {
		return requestHost
	}
	return net.JoinHostPort("localhost", strconv.Itoa(port))
}
