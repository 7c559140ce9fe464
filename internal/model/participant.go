package model

// Role tags a resolved participant by which profile store matched.
type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleUnknown Role = "unknown"
)

// Participant is a display-ready identity. Immutable once resolved; cached
// for the process lifetime keyed by ID.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// StudentProfile is the student profile store row used for resolution.
type StudentProfile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Participant derives the display identity from the profile.
func (p StudentProfile) Participant() Participant {
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	return Participant{ID: p.ID, DisplayName: name, Role: RoleStudent}
}

// StaffProfile is the staff profile store row used for resolution.
type StaffProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Participant derives the display identity from the profile.
func (p StaffProfile) Participant() Participant {
	return Participant{ID: p.ID, DisplayName: p.DisplayName, Role: RoleStaff}
}
