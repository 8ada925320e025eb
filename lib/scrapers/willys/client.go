package willys

import (
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"matkollen-backend/lib/browser"
	"matkollen-backend/lib/restyutil"
	"matkollen-backend/lib/telemetry"
)

const DefaultBaseUrl = "https://www.willys.se"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Session is an authenticated handle on the portal API for one
// identity. It wraps a resty client seeded from a session artifact
// and, when the session came out of the warm pool, the live browser
// context it belongs to.
type Session struct {
	Identity string

	http    *resty.Client
	baseUrl string
	browser *browser.Context
	// the API throttles per account, so each session paces its own
	// traffic
	limiter *rate.Limiter
}

type SessionOptions struct {
	// defaults to DefaultBaseUrl, tests point this at a stub server
	BaseUrl string
	// optional warm browser context owned by the pool
	Browser *browser.Context
}

func NewSession(identity string, artifact *SessionArtifact, opts SessionOptions) (*Session, error) {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetHeader("user-agent", userAgent)
	client.SetHeader("accept", "application/json")
	client.SetTimeout(time.Second * 30)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if artifact != nil {
		u, err := url.Parse(baseUrl)
		if err != nil {
			return nil, err
		}
		jar.SetCookies(u, artifact.httpCookies())
	}

	limiter := rate.NewLimiter(rate.Limit(4), 8)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	// InstrumentClient traces on its own, attach only one layer
	if restyInstrumentOutput != nil {
		restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)
	} else {
		telemetry.InstrumentResty(client, "scrapers/willys")
	}

	return &Session{
		Identity: identity,
		http:     client,
		baseUrl:  baseUrl,
		browser:  opts.Browser,
		limiter:  limiter,
	}, nil
}

func (s *Session) Browser() *browser.Context {
	return s.browser
}

// closes the warm browser context if this session owns one. the http
// client needs no teardown.
func (s *Session) Close() {
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
}
