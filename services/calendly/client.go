package calendly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
)

const (
	ProviderName   = "calendly"
	DefaultBaseURL = "https://api.calendly.com"

	maxBody = 4 << 20
)

type (
	Options struct {
		BaseURL    string
		Token      string
		Timeout    time.Duration // per request
		Retries    int           // attempts on 429 and 5xx, including the first
		PageSize   int
		Backoff    time.Duration // first retry delay, doubled each attempt
		HTTPClient *http.Client
	}

	// Client is the Calendly v2 REST API.
	Client struct {
		opts   Options
		http   *http.Client
		logger core.Logger
	}

	// APIError is a non-2xx Calendly response.
	APIError struct {
		StatusCode int
		Title      string
		Message    string
	}
)

var _ calendar.Provider = (*Client)(nil)

func (err *APIError) Error() string {
	msg := fmt.Sprintf("calendly: %d %s", err.StatusCode, http.StatusText(err.StatusCode))
	if err.Title != "" {
		msg += ": " + err.Title
	}
	if err.Message != "" {
		msg += ": " + err.Message
	}
	return msg
}

func (err *APIError) retryable() bool {
	return err.StatusCode == http.StatusTooManyRequests || err.StatusCode >= 500
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func NewClient(opts Options, logger core.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	return &Client{opts: opts, http: httpClient, logger: logger}
}

func (c *Client) Name() string { return ProviderName }

// do sends one API call, retrying 429/5xx and transport errors with exponential backoff.
// Each attempt has its own timeout. out may be nil.
func (c *Client) do(ctx context.Context, method, rawURL string, in, out interface{}) error {
	if c.opts.Token == "" {
		return &calendar.ConfigurationError{Setting: "calendly API token"}
	}
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "encoding request")
		}
	}

	delay := c.opts.Backoff
	var err error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "waiting to retry")
			}
			delay *= 2
		}

		err = c.attempt(ctx, method, rawURL, payload, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < c.opts.Retries {
			c.logger.Warn("calendly: retrying request", map[string]interface{}{
				"method": method, "url": rawURL, "attempt": attempt, "error": err.Error(),
			})
		}
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, payload []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Title, apiErr.Message = eb.Title, eb.Message
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decoding response")
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.opts.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) CurrentUser(ctx context.Context) (calendar.User, error) {
	var res userResource
	if err := c.do(ctx, http.MethodGet, c.endpoint("/users/me", nil), nil, &res); err != nil {
		return calendar.User{}, errors.Wrap(err, "getting current user")
	}
	return calendar.User{
		URI:          res.Resource.URI,
		Name:         res.Resource.Name,
		Email:        res.Resource.Email,
		Organization: res.Resource.CurrentOrganization,
	}, nil
}

func (c *Client) ListScheduledEvents(ctx context.Context, q calendar.EventQuery) (calendar.EventPage, error) {
	v := make(url.Values)
	v.Set("user", q.UserURI)
	v.Set("count", strconv.Itoa(c.opts.PageSize))
	v.Set("sort", "start_time:asc")
	if !q.From.IsZero() {
		v.Set("min_start_time", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		v.Set("max_start_time", q.To.UTC().Format(time.RFC3339))
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.PageToken != "" {
		v.Set("page_token", q.PageToken)
	}

	var res eventCollection
	if err := c.do(ctx, http.MethodGet, c.endpoint("/scheduled_events", v), nil, &res); err != nil {
		return calendar.EventPage{}, errors.Wrap(err, "listing scheduled events")
	}

	page := calendar.EventPage{
		Events:        make([]calendar.ScheduledEvent, 0, len(res.Collection)),
		NextPageToken: res.Pagination.NextPageToken,
	}
	for _, e := range res.Collection {
		page.Events = append(page.Events, calendar.ScheduledEvent{
			URI:         e.URI,
			Name:        e.Name,
			Status:      e.Status,
			StartTime:   e.StartTime.UTC(),
			EndTime:     e.EndTime.UTC(),
			Location:    e.Location.place(),
			MeetingLink: e.Location.meetingLink(),
		})
	}
	return page, nil
}

func (c *Client) ListEventInvitees(ctx context.Context, eventURI string) ([]calendar.Invitee, error) {
	uuid, err := lastSegment(eventURI)
	if err != nil {
		return nil, err
	}

	var invitees []calendar.Invitee
	v := make(url.Values)
	v.Set("count", strconv.Itoa(c.opts.PageSize))
	for {
		var res inviteeCollection
		uri := "/scheduled_events/" + url.PathEscape(uuid) + "/invitees"
		if err := c.do(ctx, http.MethodGet, c.endpoint(uri, v), nil, &res); err != nil {
			return nil, errors.Wrap(err, "listing event invitees")
		}
		for _, inv := range res.Collection {
			invitees = append(invitees, toInvitee(inv))
		}
		if res.Pagination.NextPageToken == "" {
			return invitees, nil
		}
		v.Set("page_token", res.Pagination.NextPageToken)
	}
}

func (c *Client) ListWebhookSubscriptions(ctx context.Context, usr calendar.User) ([]calendar.Subscription, error) {
	var subs []calendar.Subscription
	v := make(url.Values)
	v.Set("organization", usr.Organization)
	v.Set("user", usr.URI)
	v.Set("scope", "user")
	v.Set("count", strconv.Itoa(c.opts.PageSize))
	for {
		var res subscriptionCollection
		if err := c.do(ctx, http.MethodGet, c.endpoint("/webhook_subscriptions", v), nil, &res); err != nil {
			return nil, errors.Wrap(err, "listing webhook subscriptions")
		}
		for _, s := range res.Collection {
			subs = append(subs, toSubscription(s))
		}
		if res.Pagination.NextPageToken == "" {
			return subs, nil
		}
		v.Set("page_token", res.Pagination.NextPageToken)
	}
}

func (c *Client) CreateWebhookSubscription(ctx context.Context, usr calendar.User, req calendar.SubscriptionRequest) (calendar.Subscription, error) {
	events := make([]string, 0, len(req.Events))
	for _, k := range req.Events {
		events = append(events, string(k))
	}
	in := createSubscriptionRequest{
		URL:          req.CallbackURL,
		Events:       events,
		Organization: usr.Organization,
		User:         usr.URI,
		Scope:        "user",
		SigningKey:   req.SigningKey,
	}
	var res subscriptionResource
	if err := c.do(ctx, http.MethodPost, c.endpoint("/webhook_subscriptions", nil), in, &res); err != nil {
		return calendar.Subscription{}, errors.Wrap(err, "creating webhook subscription")
	}
	return toSubscription(res.Resource), nil
}

func (c *Client) DeleteWebhookSubscription(ctx context.Context, uri string) error {
	uuid, err := lastSegment(uri)
	if err != nil {
		return err
	}
	err = c.do(ctx, http.MethodDelete, c.endpoint("/webhook_subscriptions/"+url.PathEscape(uuid), nil), nil, nil)
	return errors.Wrap(err, "deleting webhook subscription")
}

func toInvitee(inv inviteeDTO) calendar.Invitee {
	out := calendar.Invitee{
		URI:         inv.URI,
		Email:       inv.Email,
		Name:        inv.Name,
		FirstName:   inv.FirstName,
		LastName:    inv.LastName,
		Status:      inv.Status,
		Rescheduled: inv.Rescheduled,
		OldInvitee:  inv.OldInvitee,
		NewInvitee:  inv.NewInvitee,
	}
	if inv.Cancellation != nil {
		out.CancelReason = inv.Cancellation.Reason
	}
	return out
}

func toSubscription(s subscriptionDTO) calendar.Subscription {
	return calendar.Subscription{
		URI:         s.URI,
		CallbackURL: s.CallbackURL,
		Events:      s.Events,
		State:       s.State,
		CreatedAt:   s.CreatedAt,
	}
}

// lastSegment returns the trailing UUID of a Calendly resource URI.
func lastSegment(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrap(err, "parsing resource uri")
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if seg == "." || seg == "/" || seg == "" {
		return "", errors.Errorf("invalid resource uri %q", uri)
	}
	return seg, nil
}
