package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSOptions configures the CORS middleware. An origin of "*" allows every
// origin; the request origin is echoed back rather than a literal "*".
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

var (
	defaultCORSMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Content-Type", "Accept", "X-Request-ID"}
)

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	headers     map[string]string
	credentials bool
}

// CORS answers OPTIONS requests with 204 and decorates every response to an
// allowed origin.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	p := newCORSPolicy(opt)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); p.allows(origin) {
				p.decorate(w.Header(), origin)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newCORSPolicy(opt CORSOptions) *corsPolicy {
	methods := orDefault(opt.AllowedMethods, defaultCORSMethods)
	allowHeaders := orDefault(opt.AllowedHeaders, defaultCORSHeaders)
	maxAge := opt.MaxAgeSeconds
	if maxAge == 0 {
		maxAge = 600
	}

	p := &corsPolicy{
		origins:     make(map[string]struct{}),
		credentials: opt.AllowCredentials,
		headers: map[string]string{
			"Access-Control-Allow-Methods": strings.Join(methods, ", "),
			"Access-Control-Allow-Headers": strings.Join(allowHeaders, ", "),
			"Access-Control-Max-Age":       strconv.Itoa(maxAge),
		},
	}
	if exposed := normalizeList(opt.ExposedHeaders); len(exposed) > 0 {
		p.headers["Access-Control-Expose-Headers"] = strings.Join(exposed, ", ")
	}
	for _, o := range normalizeList(opt.AllowedOrigins) {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[o] = struct{}{}
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

func (p *corsPolicy) decorate(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	for k, v := range p.headers {
		h.Set(k, v)
	}
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

func orDefault(list, def []string) []string {
	if out := normalizeList(list); len(out) > 0 {
		return out
	}
	return def
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
