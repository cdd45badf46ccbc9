package origin

import (
	"maps"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// CookieJar is an http.CookieJar that also remembers the latest value of every
// cookie by name and reports the full set whenever the backend updates it.
type CookieJar struct {
	jar *cookiejar.Jar

	// notify keeps callbacks in the order the snapshots were taken
	notify sync.Mutex

	mu       sync.Mutex
	values   map[string]string
	onUpdate func(map[string]string)
}

var _ http.CookieJar = (*CookieJar)(nil)

// NewCookieJar creates an empty jar using the public suffix list for domain matching
func NewCookieJar() (*CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &CookieJar{jar: jar, values: make(map[string]string)}, nil
}

// SetUpdateCallback registers fn to receive the full cookie set after each update
func (j *CookieJar) SetUpdateCallback(fn func(map[string]string)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onUpdate = fn
}

// SetCookies implements http.CookieJar
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
	if len(cookies) == 0 {
		return
	}

	j.notify.Lock()
	defer j.notify.Unlock()

	j.mu.Lock()
	for _, c := range cookies {
		if c.MaxAge < 0 {
			delete(j.values, c.Name)
			continue
		}
		j.values[c.Name] = c.Value
	}
	fn := j.onUpdate
	snapshot := maps.Clone(j.values)
	j.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Cookies implements http.CookieJar
func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Load stores name/value cookies for every host under u's registrable domain
func (j *CookieJar) Load(u *url.URL, cookies map[string]string) {
	// IP and single-label hosts only accept host-only cookies
	domain := ""
	if host := u.Hostname(); net.ParseIP(host) == nil {
		if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			domain = d
		}
	}

	list := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		list = append(list, &http.Cookie{Name: name, Value: value, Domain: domain, Path: "/"})
	}
	j.SetCookies(u, list)
}

// Values returns the latest value of every known cookie
func (j *CookieJar) Values() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return maps.Clone(j.values)
}
