package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/trezcool/calsync/core/calendar"
)

const FakeUserURI = "https://api.calendly.test/users/me"

// FakeProvider is an in-memory calendar.Provider.
type FakeProvider struct {
	mu            sync.Mutex
	events        []calendar.ScheduledEvent
	invitees      map[string][]calendar.Invitee
	subs          []calendar.Subscription
	subSeq        int
	PageSize      int
	InviteeErrors map[string]error // by event URI
	UserErr       error
	ListCalls     int
	Block         chan struct{} // when set, CurrentUser waits on it
	Entered       chan struct{} // when set, CurrentUser signals on entry
}

var _ calendar.Provider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{invitees: make(map[string][]calendar.Invitee), PageSize: 2}
}

func (p *FakeProvider) Name() string { return "fake" }

// AddEvent adds a scheduled event with one invitee per email and returns the invitee URIs.
func (p *FakeProvider) AddEvent(uuid, status string, start time.Time, minutes int, eventType string, emails ...string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	se := calendar.ScheduledEvent{
		URI:         "https://api.calendly.test/scheduled_events/" + uuid,
		Name:        eventType,
		Status:      status,
		StartTime:   start.UTC(),
		EndTime:     start.Add(time.Duration(minutes) * time.Minute).UTC(),
		Location:    "zoom",
		MeetingLink: "https://zoom.test/j/" + uuid,
	}
	p.events = append(p.events, se)

	uris := make([]string, 0, len(emails))
	for i, email := range emails {
		inv := calendar.Invitee{
			URI:    se.URI + "/invitees/" + strconv.Itoa(i+1),
			Email:  email,
			Name:   "Invitee " + strconv.Itoa(i+1),
			Status: status,
		}
		p.invitees[se.URI] = append(p.invitees[se.URI], inv)
		uris = append(uris, inv.URI)
	}
	return uris
}

func (p *FakeProvider) CurrentUser(context.Context) (calendar.User, error) {
	if p.Entered != nil {
		p.Entered <- struct{}{}
	}
	if p.Block != nil {
		<-p.Block
	}
	if p.UserErr != nil {
		return calendar.User{}, p.UserErr
	}
	return calendar.User{URI: FakeUserURI, Name: "Advisor", Email: "advisor@example.edu", Organization: "org"}, nil
}

func (p *FakeProvider) ListScheduledEvents(_ context.Context, q calendar.EventQuery) (calendar.EventPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListCalls++

	if q.UserURI != FakeUserURI {
		return calendar.EventPage{}, fmt.Errorf("unknown user %q", q.UserURI)
	}
	matched := make([]calendar.ScheduledEvent, 0, len(p.events))
	for _, se := range p.events {
		if q.Status != "" && se.Status != q.Status {
			continue
		}
		if se.StartTime.Before(q.From) || se.StartTime.After(q.To) {
			continue
		}
		matched = append(matched, se)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime.Before(matched[j].StartTime) })

	offset := 0
	if q.PageToken != "" {
		offset, _ = strconv.Atoi(q.PageToken)
	}
	end := offset + p.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page := calendar.EventPage{Events: matched[offset:end]}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (p *FakeProvider) ListEventInvitees(_ context.Context, eventURI string) ([]calendar.Invitee, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.InviteeErrors[eventURI]; err != nil {
		return nil, err
	}
	return append([]calendar.Invitee(nil), p.invitees[eventURI]...), nil
}

// UpdateInvitee applies fn to the invitee with uri.
func (p *FakeProvider) UpdateInvitee(uri string, fn func(inv *calendar.Invitee)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, invs := range p.invitees {
		for i := range invs {
			if invs[i].URI == uri {
				fn(&invs[i])
			}
		}
	}
}

func (p *FakeProvider) ListWebhookSubscriptions(context.Context, calendar.User) ([]calendar.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]calendar.Subscription(nil), p.subs...), nil
}

func (p *FakeProvider) CreateWebhookSubscription(_ context.Context, _ calendar.User, req calendar.SubscriptionRequest) (calendar.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subSeq++
	events := make([]string, 0, len(req.Events))
	for _, k := range req.Events {
		events = append(events, string(k))
	}
	sub := calendar.Subscription{
		URI:         "https://api.calendly.test/webhook_subscriptions/" + strconv.Itoa(p.subSeq),
		CallbackURL: req.CallbackURL,
		Events:      events,
		State:       "active",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	p.subs = append(p.subs, sub)
	return sub, nil
}

func (p *FakeProvider) DeleteWebhookSubscription(_ context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sub := range p.subs {
		if sub.URI == uri {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscription %q not found", uri)
}
