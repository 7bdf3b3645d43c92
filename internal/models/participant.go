// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package models

// Participant is a study participant's registry record. Participants may be
// registered in either of two collections (participants, valid_participants);
// the store deduplicates by ID with first occurrence winning.
type Participant struct {
	ID             string   `json:"id" bson:"_id"`
	ParticipantID  string   `json:"participantId,omitempty" bson:"participantId,omitempty"`
	InUse          bool     `json:"inUse" bson:"inUse"`
	EnrolledAt     FlexTime `json:"enrolledAt,omitempty" bson:"enrolledAt,omitempty"`
	LastEnrolledAt FlexTime `json:"lastEnrolledAt,omitempty" bson:"lastEnrolledAt,omitempty"`
	DeviceModel    string   `json:"deviceModel,omitempty" bson:"deviceModel,omitempty"`
	OSVersion      string   `json:"osVersion,omitempty" bson:"osVersion,omitempty"`
	IsTestUser     bool     `json:"isTestUser" bson:"isTestUser"`

	// Raw captures the registry fields the struct does not declare.
	// ExportDoc merges them back into the full document.
	Raw map[string]interface{} `json:"-" bson:",inline"`
}

// Key returns the canonical participant identifier. Registry documents
// usually key on _id but older records carry the ID in participantId only.
func (p *Participant) Key() string {
	if p.ParticipantID != "" {
		return p.ParticipantID
	}
	return p.ID
}

// Enrolled reports whether the participant counts as enrolled: an active-use
// flag or any enrollment timestamp.
func (p *Participant) Enrolled() bool {
	return p.InUse || p.EnrolledAt.Valid() || p.LastEnrolledAt.Valid()
}

// EnrollmentTime returns the best available enrollment timestamp.
func (p *Participant) EnrollmentTime() FlexTime {
	if p.EnrolledAt.Valid() {
		return p.EnrolledAt
	}
	return p.LastEnrolledAt
}

// DashboardUser is an authorized dashboard account. The document ID is the
// lower-cased email address.
type DashboardUser struct {
	Email     string   `json:"email" bson:"_id"`
	Role      string   `json:"role" bson:"role"`
	AddedAt   FlexTime `json:"addedAt,omitempty" bson:"addedAt,omitempty"`
	AddedBy   string   `json:"addedBy,omitempty" bson:"addedBy,omitempty"`
	UpdatedAt FlexTime `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
	UpdatedBy string   `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
}

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// AlertRecipient is an SMS recipient for safety-alert notifications.
// The document ID is the normalized 10-digit phone number.
type AlertRecipient struct {
	Phone   string   `json:"phone" bson:"_id"`
	Name    string   `json:"name,omitempty" bson:"name,omitempty"`
	AddedAt FlexTime `json:"addedAt,omitempty" bson:"addedAt,omitempty"`
	AddedBy string   `json:"addedBy,omitempty" bson:"addedBy,omitempty"`
}
