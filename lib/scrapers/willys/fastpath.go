package willys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-rod/rod/lib/proto"
	qrcode "github.com/skip2/go-qrcode"

	"matkollen-backend/lib/retry"
)

const (
	bankidAuthEndpoint    = "/axfood/rest/bankid/auth"
	bankidCollectEndpoint = "/axfood/rest/bankid/collect"
)

type bankidChallenge struct {
	OrderRef       string `json:"orderRef"`
	AutoStartToken string `json:"autoStartToken"`
	QrData         string `json:"qrData"`
}

type bankidCollectStatus struct {
	Status   string `json:"status"`
	HintCode string `json:"hintCode"`
	QrData   string `json:"qrData"`
}

// terminal collect statuses. everything else keeps the poll going.
const (
	collectComplete = "COMPLETE"
	collectFailed   = "FAILED"
	collectExpired  = "EXPIRED_TRANSACTION"
)

// token-only login: replay the stored cookies against the bankid
// challenge endpoint without driving any ui. much faster than the
// full flow when the portal still honors the session's device
// binding, and harmless to attempt when it doesn't.
func (e *Engine) fastPath(ctx context.Context, identity string, prior *SessionArtifact, stream *LoginStream) (*SessionArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fastTimeout)
	defer cancel()

	start := time.Now()
	artifact, err := e.runFastPath(ctx, identity, prior, stream)
	// budget expiry surfaces as a timeout no matter which call it
	// interrupted, the underlying transport error is noise
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrAuthTimeout) {
		return nil, fmt.Errorf("%w after %s", ErrAuthTimeout, time.Since(start).Round(time.Second))
	}
	return artifact, err
}

func (e *Engine) runFastPath(ctx context.Context, identity string, prior *SessionArtifact, stream *LoginStream) (*SessionArtifact, error) {
	session, err := NewSession(identity, prior, SessionOptions{BaseUrl: e.baseUrl})
	if err != nil {
		return nil, err
	}

	challenge, err := e.requestChallenge(ctx, session.http)
	if err != nil {
		return nil, err
	}
	e.emitQr(stream, challenge.QrData, challenge.AutoStartToken, nil)

	err = e.pollCollect(ctx, session.http, challenge.OrderRef, stream, nil)
	if err != nil {
		return nil, err
	}

	// confirm the session actually works before persisting it
	_, err = session.FetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	return artifactFromJar(session, prior)
}

func (e *Engine) requestChallenge(ctx context.Context, client *resty.Client) (*bankidChallenge, error) {
	res, err := client.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(`{"device":"other"}`).
		Post(bankidAuthEndpoint)
	if err != nil {
		return nil, err
	}
	body := res.Body()
	if looksLikeHtml(res.Header().Get("content-type"), body) {
		return nil, fmt.Errorf("%w (title: %q)", ErrUpstreamFormat, htmlTitle(body))
	}
	if res.StatusCode() >= 400 {
		return nil, fmt.Errorf("bankid auth returned %d", res.StatusCode())
	}

	var challenge bankidChallenge
	err = json.Unmarshal(body, &challenge)
	if err != nil {
		return nil, err
	}
	if challenge.OrderRef == "" {
		return nil, fmt.Errorf("bankid auth returned no orderRef")
	}
	return &challenge, nil
}

var errCollectPending = errors.New("bankid transaction outstanding")

// polls the collect endpoint at a fixed interval until a terminal
// status shows up or ctx's deadline passes. network blips and garbage
// responses are swallowed and retried, a login that is about to
// succeed must not die to one dropped poll.
func (e *Engine) pollCollect(ctx context.Context, client *resty.Client, orderRef string, stream *LoginStream, pageQr func() []byte) error {
	poll := retry.Policy{NewBackoff: retry.Constant(e.pollInterval)}
	start := time.Now()

	err := poll.Do(ctx, func() error {
		res, err := client.R().
			SetContext(ctx).
			SetQueryParam("orderRef", orderRef).
			Get(bankidCollectEndpoint)
		if err != nil {
			return err
		}

		var status bankidCollectStatus
		err = json.Unmarshal(res.Body(), &status)
		if err != nil {
			return err
		}

		switch status.Status {
		case collectComplete:
			return nil
		case collectFailed, collectExpired:
			return retry.Permanent(fmt.Errorf("%w: bankid status %s (hint %s)",
				ErrAutomation, status.Status, status.HintCode))
		}

		stream.collect(status.HintCode)
		e.emitQr(stream, status.QrData, "", pageQr)
		return fmt.Errorf("%w: %s", errCollectPending, status.Status)
	})

	if ctx.Err() != nil {
		return fmt.Errorf("%w after %s", ErrAuthTimeout, time.Since(start).Round(time.Second))
	}
	return err
}

// prefers the animated qr token from the api, falls back to a
// screenshot of the page's qr element when ui-driven.
func (e *Engine) emitQr(stream *LoginStream, qrData, autoStartToken string, pageQr func() []byte) {
	token := qrData
	if token == "" {
		token = autoStartToken
	}
	if token != "" {
		png, err := qrcode.Encode(token, qrcode.Medium, 256)
		if err == nil {
			stream.qr(png)
			return
		}
	}
	if pageQr != nil {
		if png := pageQr(); len(png) > 0 {
			stream.qr(png)
		}
	}
}

// rebuilds a session artifact from the resty cookie jar after a fast
// path login, keeping the prior local storage snapshot since no
// browser was involved.
func artifactFromJar(session *Session, prior *SessionArtifact) (*SessionArtifact, error) {
	base, err := url.Parse(session.baseUrl)
	if err != nil {
		return nil, err
	}

	cookies := session.http.GetClient().Jar.Cookies(base)
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = base.Hostname()
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   "/",
		})
	}

	localStorage := map[string]string{}
	if prior != nil {
		localStorage = prior.LocalStorage
	}
	return &SessionArtifact{
		Cookies:      params,
		LocalStorage: localStorage,
		UpdatedAt:    time.Now(),
	}, nil
}
