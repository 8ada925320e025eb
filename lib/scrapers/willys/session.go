package willys

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// SessionArtifact is the serialized browser state that is sufficient
// to replay authentication without going through bankid again:
// cookies plus the portal's local storage.
type SessionArtifact struct {
	Cookies      []*proto.NetworkCookieParam `json:"cookies"`
	LocalStorage map[string]string           `json:"local_storage"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (a *SessionArtifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

func DecodeSessionArtifact(blob []byte) (*SessionArtifact, error) {
	var a SessionArtifact
	err := json.Unmarshal(blob, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ArtifactStore persists session artifacts per identity. Implemented
// by services/sessions, injected here so the login engine can persist
// on completion without depending on the storage layer.
type ArtifactStore interface {
	Save(ctx context.Context, identity string, artifact *SessionArtifact) error
	Load(ctx context.Context, identity string) (*SessionArtifact, error)
}

// reads cookies and the portal's localStorage out of a live browser
// context after a completed login.
func captureArtifact(browser *rod.Browser, page *rod.Page) (*SessionArtifact, error) {
	cookies, err := browser.GetCookies()
	if err != nil {
		return nil, err
	}

	localStorage := map[string]string{}
	if page != nil {
		res, err := page.Eval(`() => {
			const out = {};
			for (let i = 0; i < localStorage.length; i++) {
				const key = localStorage.key(i);
				out[key] = localStorage.getItem(key);
			}
			return JSON.stringify(out);
		}`)
		if err == nil {
			// best effort, a missing localStorage snapshot only
			// makes the next fast path slightly more likely to miss
			json.Unmarshal([]byte(res.Value.Str()), &localStorage)
		}
	}

	return &SessionArtifact{
		Cookies:      proto.CookiesToParams(cookies),
		LocalStorage: localStorage,
		UpdatedAt:    time.Now(),
	}, nil
}

// writes the artifact's cookies back into a fresh browser context so
// a warm context starts out authenticated.
func restoreArtifact(browser *rod.Browser, artifact *SessionArtifact) error {
	if artifact == nil || len(artifact.Cookies) == 0 {
		return nil
	}
	return browser.SetCookies(artifact.Cookies)
}

// converts artifact cookies into net/http cookies for the resty
// client's jar.
func (a *SessionArtifact) httpCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(a.Cookies))
	for _, c := range a.Cookies {
		out = append(out, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return out
}
