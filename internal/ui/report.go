package ui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/proxyauth/internal/proxy"
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styles.label.Render(label), value)
}

// Status renders a routing status report.
func Status(st proxy.Status) string {
	var b strings.Builder
	b.WriteString(Title("Proxy status") + "\n")
	b.WriteString(row("Enabled", Check(st.Enabled)) + "\n")
	b.WriteString(row("State", st.State) + "\n")
	b.WriteString(row("Endpoints", fmt.Sprintf("%d enabled of %d", st.EnabledProxies, st.TotalProxies)) + "\n")

	if st.ActiveProxy != "" {
		b.WriteString(row("Active", fmt.Sprintf("%s (%s://%s:%d)", st.ActiveProxy, st.ProxyType, st.ProxyHost, st.ProxyPort)) + "\n")
	}
	if st.LocationInfo != nil {
		b.WriteString(row("Masking", Check(st.LocationMasking)) + "\n")
		b.WriteString(location(*st.LocationInfo))
	}
	if !st.SessionCreated {
		b.WriteString(Help("derived from configuration; no session created") + "\n")
	}
	if st.Error != "" {
		b.WriteString(row("Error", Warn(st.Error)) + "\n")
	}
	return b.String()
}

// Location renders a masking validation result.
func Location(ok bool, info proxy.LocationInfo) string {
	var b strings.Builder
	b.WriteString(Title("Location masking") + "\n")
	b.WriteString(row("Masked", Check(ok)) + "\n")
	b.WriteString(location(info))
	if info.Error != "" {
		b.WriteString(row("Reason", Warn(info.Error)) + "\n")
	}
	if ok {
		b.WriteString(Help("differing addresses suggest masking is active; this is not a guarantee") + "\n")
	}
	return b.String()
}

func location(info proxy.LocationInfo) string {
	var b strings.Builder
	for _, kv := range [][2]string{
		{"Proxy", info.ProxyName},
		{"Routed IP", info.IP},
		{"Direct IP", info.DirectIP},
		{"Country", info.Country},
		{"City", info.City},
		{"Region", info.Region},
		{"ISP", info.ISP},
	} {
		if kv[1] != "" {
			b.WriteString(row(kv[0], kv[1]) + "\n")
		}
	}
	return b.String()
}

// Probes renders connectivity results ordered by endpoint name.
func Probes(results map[string]proxy.ProbeResult) string {
	if len(results) == 0 {
		return Warn("no enabled endpoints") + "\n"
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString(Title("Connectivity") + "\n")
	for _, name := range names {
		res := results[name]
		detail := fmt.Sprintf("%.0fms", res.LatencyMS)
		if !res.OK {
			detail = Warn(res.Err)
		}
		b.WriteString(row(name, Check(res.OK)+" "+detail) + "\n")
	}
	return b.String()
}

// Endpoints renders configured endpoints with credentials redacted.
func Endpoints(endpoints []*proxy.Endpoint) string {
	if len(endpoints) == 0 {
		return Warn("no endpoints configured") + "\n"
	}

	var b strings.Builder
	b.WriteString(Title("Endpoints") + "\n")
	for _, e := range endpoints {
		line := fmt.Sprintf("%s priority=%d protocols=%s", e.Redacted(), e.Priority(), strings.Join(e.Protocols(), ","))
		if !e.Enabled() {
			line += " " + Help("(disabled)")
		}
		b.WriteString(row(e.Name(), line) + "\n")
	}
	return b.String()
}
