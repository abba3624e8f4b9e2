package types

import "time"

// UserProfile holds onboarding answers surfaced to the assistant.
type UserProfile struct {
	OwnerID         string     `json:"ownerId"`
	Name            string     `json:"name"`
	DateOfBirth     *time.Time `json:"dateOfBirth,omitempty"`
	Country         string     `json:"country"`
	Gender          string     `json:"gender"`
	MainGoal        string     `json:"mainGoal"`
	Interests       []string   `json:"interests"`
	ExperienceLevel string     `json:"experienceLevel"`
	IsDeleted       bool       `json:"isDeleted"`
}

// Age returns whole years since DateOfBirth at now, or nil.
func (p *UserProfile) Age(now time.Time) *int {
	if p == nil || p.DateOfBirth == nil {
		return nil
	}
	dob := p.DateOfBirth.UTC()
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return &age
}

// UserPreferences are per-owner assistant settings.
type UserPreferences struct {
	OwnerID              string `json:"ownerId"`
	PreferredTone        string `json:"preferredTone"`
	Language             string `json:"language"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// DefaultPreferences is used when an owner has no stored preferences.
func DefaultPreferences(ownerID string) UserPreferences {
	return UserPreferences{
		OwnerID:              ownerID,
		PreferredTone:        "supportive and empathetic",
		Language:             "en",
		NotificationsEnabled: true,
	}
}
