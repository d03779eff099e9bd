package security

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

var (
	suspiciousPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}
	suspiciousAgents = []string{
		"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan",
	}
	unusualMethods = map[string]bool{"TRACE": true, "TRACK": true, "DEBUG": true, "CONNECT": true}
)

const maxURLLength = 2048

// Detector resolves client IPs and flags probe-like requests. It only
// reports; blocking is left to the rate limiter.
type Detector struct {
	trustedProxies []*net.IPNet
}

func NewDetector() *Detector {
	return &Detector{
		trustedProxies: []*net.IPNet{
			mustParseCIDR("127.0.0.0/8"),
			mustParseCIDR("10.0.0.0/8"),
			mustParseCIDR("172.16.0.0/12"),
			mustParseCIDR("192.168.0.0/16"),
		},
	}
}

func mustParseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}

// Suspicious returns the first reason r looks like a probe, or "".
func (d *Detector) Suspicious(r *http.Request) string {
	path := strings.ToLower(r.URL.Path)
	query := strings.ToLower(r.URL.RawQuery)
	for _, p := range suspiciousPatterns {
		if strings.Contains(path, p) || strings.Contains(query, p) {
			return "pattern " + p
		}
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, a := range suspiciousAgents {
		if strings.Contains(ua, a) {
			return "user agent " + a
		}
	}
	if unusualMethods[r.Method] {
		return "method " + r.Method
	}
	if len(r.URL.String()) > maxURLLength {
		return "url too long"
	}
	if strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 {
		return "too many proxy hops"
	}
	return ""
}

// ClientIP returns the caller's address. Forwarding headers are honoured
// only when the direct peer is a trusted proxy.
func (d *Detector) ClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	parsed := net.ParseIP(directIP)
	if parsed == nil || !d.isTrustedProxy(parsed) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware logs suspicious requests and calls onSuspicious for each.
func (d *Detector) Middleware(onSuspicious func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reason := d.Suspicious(r); reason != "" {
				slog.WarnContext(r.Context(), "Suspicious request",
					"reason", reason,
					"method", r.Method,
					"path", r.URL.Path,
					"client_ip", d.ClientIP(r))
				if onSuspicious != nil {
					onSuspicious(r)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
