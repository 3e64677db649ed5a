package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/proxyauth/internal/shared"
)

// maxEchoBody bounds how much of an echo response is read.
const maxEchoBody = 64 << 10

// ProbeResult is the outcome of one endpoint connectivity check.
type ProbeResult struct {
	OK        bool    `json:"ok"`
	LatencyMS float64 `json:"latency_ms"`
	Err       string  `json:"error,omitempty"`
}

// Probe GETs each echo URL through e in order and stops at the first 2xx response.
//
// Only URLs whose scheme e carries are tried; the rest would bypass the proxy. LatencyMS covers only
// the successful call. When every URL fails, Err lists each failure. Nothing is cached on the endpoint.
func (e *Endpoint) Probe(ctx context.Context, timeout time.Duration, urls []string) ProbeResult {
	if len(urls) == 0 {
		return ProbeResult{Err: "no echo urls configured"}
	}
	urls = e.routedURLs(urls)
	if len(urls) == 0 {
		return ProbeResult{Err: fmt.Sprintf("no echo url uses a protocol routed through %s (%s)", e.name, strings.Join(e.protocols, ", "))}
	}

	t, err := newTransport(e, false)
	if err != nil {
		return ProbeResult{Err: err.Error()}
	}
	defer t.CloseIdleConnections()
	client := &http.Client{Transport: t, Timeout: timeout}

	var errs []string
	for _, u := range urls {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err().Error())
			break
		}

		start := time.Now()
		status, err := fetch(ctx, client, u)
		elapsed := time.Since(start)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", u, err))
			continue
		}
		if status < 200 || status > 299 {
			errs = append(errs, fmt.Sprintf("%s: status %d", u, status))
			continue
		}
		return ProbeResult{OK: true, LatencyMS: float64(elapsed.Microseconds()) / 1000}
	}
	return ProbeResult{Err: strings.Join(errs, "; ")}
}

// routedURLs keeps the URLs whose scheme [Endpoint.ProxyMapping] sends through e.
func (e *Endpoint) routedURLs(urls []string) []string {
	mapping := e.ProxyMapping()
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if _, ok := mapping[u.Scheme]; ok {
			out = append(out, raw)
		}
	}
	return out
}

func fetch(ctx context.Context, client *http.Client, u string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxEchoBody))
	return resp.StatusCode, nil
}

// lookupIP GETs an IP echo URL with client and extracts the reported address.
func lookupIP(ctx context.Context, client *http.Client, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrIPLookup, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrIPLookup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned status %d", shared.ErrIPLookup, u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrIPLookup, err)
	}
	ip, err := parseIP(body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", shared.ErrIPLookup, u, err)
	}
	return ip, nil
}

// parseIP accepts {"origin": ...} (httpbin), {"ip": ...} (ipify) or a bare address.
//
// httpbin may report a comma separated chain; the first hop is the client.
func parseIP(body []byte) (string, error) {
	raw := strings.TrimSpace(string(body))

	var payload struct {
		Origin string `json:"origin"`
		IP     string `json:"ip"`
	}
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", err
		}
		raw = payload.Origin
		if raw == "" {
			raw = payload.IP
		}
	}

	raw = strings.TrimSpace(strings.Split(raw, ",")[0])
	if net.ParseIP(raw) == nil {
		return "", errors.New("response did not contain an ip address")
	}
	return raw, nil
}
