package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const unknownLocation = "Unknown"

// LocationInfo is the evidence gathered by [Router.ValidateMasking].
type LocationInfo struct {
	IP           string `json:"ip,omitempty"`
	DirectIP     string `json:"direct_ip,omitempty"`
	ProxyName    string `json:"proxy_name,omitempty"`
	ProxyWorking bool   `json:"proxy_working"`
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	Region       string `json:"region,omitempty"`
	ISP          string `json:"isp,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Status is the diagnostic payload reported to callers.
type Status struct {
	Enabled         bool          `json:"enabled"`
	State           string        `json:"state"`
	ProxyCount      int           `json:"proxy_count"`
	ActiveProxy     string        `json:"active_proxy,omitempty"`
	ProxyHost       string        `json:"proxy_host,omitempty"`
	ProxyPort       int           `json:"proxy_port,omitempty"`
	ProxyType       string        `json:"proxy_type,omitempty"`
	LocationMasking bool          `json:"location_masking"`
	LocationInfo    *LocationInfo `json:"location_info,omitempty"`
	TotalProxies    int           `json:"total_proxies"`
	EnabledProxies  int           `json:"enabled_proxies"`
	SessionCreated  bool          `json:"session_created"`
	Error           string        `json:"error,omitempty"`
}

// ConfigStatus derives a status from settings alone, without a router or any network call.
func ConfigStatus(s Settings) Status {
	enabled := 0
	for _, e := range s.Endpoints {
		if e.IsEnabled() {
			enabled++
		}
	}
	return Status{
		Enabled:        s.Enabled,
		State:          Unconfigured.String(),
		ProxyCount:     len(s.Endpoints),
		TotalProxies:   len(s.Endpoints),
		EnabledProxies: enabled,
	}
}

// CurrentIP returns the external address the routed session is observed from.
func (r *Router) CurrentIP(ctx context.Context) (string, error) {
	s, err := r.CreateSession(ctx, SchemeHTTPS)
	if err != nil {
		return "", err
	}
	return lookupIP(ctx, s.Client, r.settings.CurrentIPURL)
}

// ValidateMasking compares the routed and direct external addresses and, when they differ, looks up the
// routed address's location.
//
// A true result is evidence that traffic leaves through the proxy, not proof: echo and geolocation
// services can be unreachable, rate limited or wrong. Failures are reported in the returned info and
// never as errors. Geolocation failures do not fail the check.
func (r *Router) ValidateMasking(ctx context.Context) (bool, LocationInfo) {
	if !r.pool.Enabled() {
		return false, LocationInfo{Error: "proxy not enabled or configured"}
	}

	s, err := r.CreateSession(ctx, SchemeHTTPS)
	if err != nil {
		return false, LocationInfo{Error: fmt.Sprintf("location validation failed: %v", err)}
	}
	if s.Direct() {
		return false, LocationInfo{Error: "proxy not enabled or configured"}
	}

	proxyIP, err := lookupIP(ctx, s.Client, r.settings.IPEchoURL)
	if err != nil {
		r.logger.Error("location validation failed", "error", err)
		return false, LocationInfo{ProxyName: s.Endpoint.Name(), Error: fmt.Sprintf("location validation failed: %v", err)}
	}
	directIP, err := lookupIP(ctx, r.direct, r.settings.IPEchoURL)
	if err != nil {
		r.logger.Error("location validation failed", "error", err)
		return false, LocationInfo{IP: proxyIP, ProxyName: s.Endpoint.Name(), Error: fmt.Sprintf("location validation failed: %v", err)}
	}

	info := LocationInfo{IP: proxyIP, DirectIP: directIP, ProxyName: s.Endpoint.Name()}
	if proxyIP == directIP {
		info.Error = "proxy not working - same IP detected"
		r.logger.Warn("location masking not in effect", "endpoint", s.Endpoint.Name(), "ip", proxyIP)
		return false, info
	}

	info.ProxyWorking = true
	if !r.geolocate(ctx, s.Client, &info) {
		info.Country = unknownLocation + " (geolocation services unavailable)"
		info.City = unknownLocation
		info.Region = unknownLocation
		info.ISP = unknownLocation
	}
	r.logger.Info("location masking validated", "endpoint", info.ProxyName, "ip", info.IP, "country", info.Country)
	return true, info
}

// geoPayload covers the field names used by ipapi.co, ip-api.com and freegeoip.app.
type geoPayload struct {
	CountryName string `json:"country_name"`
	Country     string `json:"country"`
	City        string `json:"city"`
	Region      string `json:"region"`
	RegionName  string `json:"regionName"`
	RegionName2 string `json:"region_name"`
	Org         string `json:"org"`
	ISP         string `json:"isp"`
}

// geolocate tries each provider in order and fills info from the first usable response.
func (r *Router) geolocate(ctx context.Context, client *http.Client, info *LocationInfo) bool {
	for _, tmpl := range r.settings.GeoURLs {
		u := fmt.Sprintf(tmpl, info.IP)
		g, err := fetchGeo(ctx, client, u)
		if err != nil {
			r.logger.Debug("geolocation service failed", "url", u, "error", err)
			continue
		}

		country := firstNonEmpty(g.CountryName, g.Country)
		if country == "" {
			r.logger.Debug("geolocation service returned no country", "url", u)
			continue
		}
		info.Country = country
		info.City = firstNonEmpty(g.City, unknownLocation)
		info.Region = firstNonEmpty(g.RegionName, g.Region, g.RegionName2, unknownLocation)
		info.ISP = firstNonEmpty(g.Org, g.ISP, unknownLocation)
		return true
	}
	return false
}

func fetchGeo(ctx context.Context, client *http.Client, u string) (*geoPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var g geoPayload
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Status reports pool counts, the current selection and, when routed, the masking evidence.
func (r *Router) Status(ctx context.Context) Status {
	st := Status{
		Enabled:        r.pool.Enabled(),
		ProxyCount:     r.pool.Len(),
		TotalProxies:   r.pool.Len(),
		EnabledProxies: r.pool.EnabledCount(),
		SessionCreated: true,
	}
	if !st.Enabled {
		st.State = Unavailable.String()
		st.Error = "proxy disabled"
		return st
	}

	sel := r.SelectActive(ctx)
	st.State = sel.State.String()
	if !sel.Routed() {
		st.Error = "no proxy available"
		return st
	}

	st.ActiveProxy = sel.Endpoint.Name()
	st.ProxyHost = sel.Endpoint.Host()
	st.ProxyPort = sel.Endpoint.Port()
	st.ProxyType = sel.Endpoint.Scheme()

	ok, info := r.ValidateMasking(ctx)
	st.LocationMasking = ok
	st.LocationInfo = &info
	return st
}
