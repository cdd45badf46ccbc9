package service

import "github.com/mmcdole/originbridge/internal/domain"

// EventType names a notification pushed to the host
type EventType string

const (
	EventLocalGameChanged   EventType = "local_game_status_changed"
	EventAuthLost           EventType = "authentication_lost"
	EventCredentialsUpdated EventType = "store_credentials"
)

// Event is one host notification. Only the field matching Type is set.
type Event struct {
	Type      EventType         `json:"type"`
	LocalGame *domain.LocalGame `json:"local_game,omitempty"`
	Cookies   map[string]string `json:"cookies,omitempty"`
}

// emit delivers e unless the plugin has shut down
func (p *Plugin) emit(e Event) {
	select {
	case p.events <- e:
	case <-p.done:
		p.logger.Debug("dropping event after shutdown", "type", e.Type)
	}
}

// pendingNotices holds auth notifications raised on the request path until the
// dispatcher delivers them. Only the latest cookie set is kept.
type pendingNotices struct {
	cookies  map[string]string
	authLost bool
}

// notifyCookies records the latest cookie set. It never blocks, since it runs
// inside the HTTP client's cookie jar.
func (p *Plugin) notifyCookies(cookies map[string]string) {
	p.logger.Debug("session cookies updated", "cookies", cookies)
	p.noticeMu.Lock()
	p.notices.cookies = cookies
	p.noticeMu.Unlock()
	p.wakeDispatcher()
}

// notifyAuthLost records that the session is gone. It never blocks, since it
// runs inside a token refresh other requests are waiting on.
func (p *Plugin) notifyAuthLost() {
	p.noticeMu.Lock()
	p.notices.authLost = true
	p.noticeMu.Unlock()
	p.wakeDispatcher()
}

func (p *Plugin) wakeDispatcher() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch forwards pending auth notifications to the events channel until shutdown
func (p *Plugin) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		p.noticeMu.Lock()
		pending := p.notices
		p.notices = pendingNotices{}
		p.noticeMu.Unlock()

		if pending.cookies != nil {
			p.emit(Event{Type: EventCredentialsUpdated, Cookies: pending.cookies})
		}
		if pending.authLost {
			p.emit(Event{Type: EventAuthLost})
		}
	}
}
