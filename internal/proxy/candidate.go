package proxy

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Candidate is one relay from the remote list.
type Candidate struct {
	Host string
	Port string
}

// String renders host:port.
func (c Candidate) String() string { return net.JoinHostPort(c.Host, c.Port) }

// ParseList reads newline separated host:port[:extra] entries. Blank and
// malformed lines are skipped.
func ParseList(body string) []Candidate {
	var out []Candidate
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out = append(out, Candidate{Host: parts[0], Port: parts[1]})
	}
	return out
}

// NewClient returns an HTTP client that routes every request through c.
// scheme selects how the relay itself is reached (http or https). Relay
// certificates are not verified.
func NewClient(c Candidate, scheme string, timeout time.Duration) *http.Client {
	if scheme == "" {
		scheme = "https"
	}
	proxyURL := &url.URL{Scheme: scheme, Host: c.String()}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyURL(proxyURL),
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
			TLSHandshakeTimeout: timeout,
			DisableKeepAlives:   true,
		},
	}
}
