package willys

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/codes"
)

const profileEndpoint = "/axfood/rest/customers/current"

// Profile is the authenticated customer record, used to validate a
// stored session out-of-band.
type Profile struct {
	CustomerId       string `json:"customerId"`
	MemberCardNumber string `json:"memberCardNumber"`
	FirstName        string `json:"firstName"`
	Email            string `json:"email"`
}

// fetches the customer profile over the session. an html response
// means the session is dead.
func (s *Session) FetchProfile(ctx context.Context) (*Profile, error) {
	ctx, span := tracer.Start(ctx, "FetchProfile")
	defer span.End()

	res, err := s.http.R().
		SetContext(ctx).
		Get(profileEndpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile request failed")
		return nil, err
	}

	body := res.Body()
	if looksLikeHtml(res.Header().Get("content-type"), body) {
		span.SetStatus(codes.Error, "profile returned html")
		return nil, fmt.Errorf("%w: %w", ErrSessionMissing, ErrUpstreamFormat)
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		span.SetStatus(codes.Error, "profile unauthorized")
		return nil, fmt.Errorf("%w: status %d", ErrSessionMissing, res.StatusCode())
	}
	if res.StatusCode() >= 400 {
		return nil, fmt.Errorf("profile returned %d", res.StatusCode())
	}

	var profile Profile
	err = json.Unmarshal(body, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
