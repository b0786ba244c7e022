package roster

import "time"

// Role is the closed set of portal roles a person can hold.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
	RoleHOD     Role = "hod"
	RoleSupport Role = "support"
	// RoleUnknown is assigned when the stored role string does not match
	// any known role. Unknown people are excluded from role-filtered
	// rosters rather than silently included.
	RoleUnknown Role = "unknown"
)

// ParseRole maps a stored role string to a Role. Unrecognized values
// (including empty) become RoleUnknown.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleStudent, RoleFaculty, RoleAdmin, RoleHOD, RoleSupport:
		return Role(s)
	}
	return RoleUnknown
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r != RoleUnknown && ParseRole(string(r)) == r
}

// Person is an enrolled individual tracked by the system.
type Person struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Department      string    `json:"department"`
	Email           *string   `json:"email,omitempty"`
	ProfileImageURL *string   `json:"profile_image_url,omitempty"`
	Role            Role      `json:"role"`
	CreatedAt       time.Time `json:"created_at"`
}

// Event is one recorded presence instance for a person. Events are
// immutable once created; UserID may reference a person that no longer
// exists and such orphans are tolerated everywhere.
type Event struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
	ScreenshotPath *string   `json:"screenshot_path,omitempty"`
}

// PersonSummary is the per-person aggregate for one period. LastSeen is
// nil when the person has no recorded events.
type PersonSummary struct {
	PersonID int64      `json:"person_id"`
	Count    int        `json:"count"`
	Rate     int        `json:"rate"`
	LastSeen *time.Time `json:"last_seen"`
}

// RosterSummary is the roster-level aggregate.
type RosterSummary struct {
	TotalCount  int `json:"total_count"`
	AvgRate     int `json:"avg_rate"`
	AtRiskCount int `json:"at_risk_count"`
}

// Announcement is a notice shown to one audience role, or to everyone
// when Audience is empty.
type Announcement struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Audience  string    `json:"audience,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
