package calendly

import "time"

// API envelopes: single objects come as {"resource": ...}, lists as {"collection": [...], "pagination": ...}.
type (
	pagination struct {
		Count         int    `json:"count"`
		NextPage      string `json:"next_page"`
		NextPageToken string `json:"next_page_token"`
	}

	userDTO struct {
		URI                 string `json:"uri"`
		Name                string `json:"name"`
		Email               string `json:"email"`
		CurrentOrganization string `json:"current_organization"`
	}

	userResource struct {
		Resource userDTO `json:"resource"`
	}

	locationDTO struct {
		Type     string `json:"type"`
		Location string `json:"location"`
		JoinURL  string `json:"join_url"`
	}

	eventDTO struct {
		URI       string      `json:"uri"`
		Name      string      `json:"name"`
		Status    string      `json:"status"`
		StartTime time.Time   `json:"start_time"`
		EndTime   time.Time   `json:"end_time"`
		EventType string      `json:"event_type"`
		Location  locationDTO `json:"location"`
	}

	eventCollection struct {
		Collection []eventDTO  `json:"collection"`
		Pagination pagination `json:"pagination"`
	}

	cancellationDTO struct {
		CanceledBy string `json:"canceled_by"`
		Reason     string `json:"reason"`
	}

	inviteeDTO struct {
		URI          string           `json:"uri"`
		Email        string           `json:"email"`
		Name         string           `json:"name"`
		FirstName    string           `json:"first_name"`
		LastName     string           `json:"last_name"`
		Status       string           `json:"status"`
		Rescheduled  bool             `json:"rescheduled"`
		OldInvitee   string           `json:"old_invitee"`
		NewInvitee   string           `json:"new_invitee"`
		Event        string           `json:"event"`
		Cancellation *cancellationDTO `json:"cancellation"`
	}

	inviteeCollection struct {
		Collection []inviteeDTO `json:"collection"`
		Pagination pagination   `json:"pagination"`
	}

	subscriptionDTO struct {
		URI         string    `json:"uri"`
		CallbackURL string    `json:"callback_url"`
		Events      []string  `json:"events"`
		State       string    `json:"state"`
		Scope       string    `json:"scope"`
		CreatedAt   time.Time `json:"created_at"`
	}

	subscriptionResource struct {
		Resource subscriptionDTO `json:"resource"`
	}

	subscriptionCollection struct {
		Collection []subscriptionDTO `json:"collection"`
		Pagination pagination        `json:"pagination"`
	}

	createSubscriptionRequest struct {
		URL          string   `json:"url"`
		Events       []string `json:"events"`
		Organization string   `json:"organization"`
		User         string   `json:"user"`
		Scope        string   `json:"scope"`
		SigningKey   string   `json:"signing_key"`
	}

	errorBody struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
)

// meetingLink returns the join URL, or the location itself when it is a URL.
func (l locationDTO) meetingLink() string {
	if l.JoinURL != "" {
		return l.JoinURL
	}
	if len(l.Location) > 8 && (l.Location[:7] == "http://" || l.Location[:8] == "https://") {
		return l.Location
	}
	return ""
}

func (l locationDTO) place() string {
	if l.Location != "" && l.meetingLink() != l.Location {
		return l.Location
	}
	return l.Type
}
