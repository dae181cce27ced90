// Package session models the authenticated caller and the course-membership
// lookups the submission engine needs. User management itself lives outside
// this service; the engine only consumes the boundary defined here.
package session

import "context"

// OutboundContext carries the external grade-consumer coordinates attached to
// a session launched from an outside tool. When present and the course
// reports grades, completed submissions are pushed back to the consumer.
type OutboundContext struct {
	ServiceURL  string `json:"service_url"`
	ResultID    string `json:"result_id"`
	ConsumerKey string `json:"consumer_key"`
}

// Session is an authenticated caller.
type Session struct {
	Username string           `json:"username"`
	Email    string           `json:"email,omitempty"`
	Locale   string           `json:"locale,omitempty"`
	Outbound *OutboundContext `json:"outbound,omitempty"`
}

// Directory resolves course membership questions for a user.
type Directory interface {
	// GroupMembers returns the full member list of the user's group in the
	// course, or an empty slice when the user is not grouped.
	GroupMembers(ctx context.Context, courseID, username string) ([]string, error)

	// HasStaffRights reports whether the user holds elevated rights on the
	// course.
	HasStaffRights(ctx context.Context, courseID, username string) (bool, error)
}
