/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// Priority ranks waiting entries. Higher weight is served first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight returns the ordering weight of the priority, 0 if unknown.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Weight() > 0
}

// ParsePriority normalizes user input into a Priority.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if s == "" {
		return PriorityMedium, true
	}
	return p, p.Valid()
}

// WaitingStatus captures the waiting entry lifecycle.
type WaitingStatus string

const (
	WaitingStatusWaiting   WaitingStatus = "waiting"
	WaitingStatusNotified  WaitingStatus = "notified"
	WaitingStatusConfirmed WaitingStatus = "confirmed"
	WaitingStatusExpired   WaitingStatus = "expired"
	WaitingStatusCancelled WaitingStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s WaitingStatus) Terminal() bool {
	switch s {
	case WaitingStatusConfirmed, WaitingStatusExpired, WaitingStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the entry still occupies a place in the queue.
func (s WaitingStatus) Active() bool {
	return s == WaitingStatusWaiting || s == WaitingStatusNotified
}

// CanTransition reports whether from -> to is a permitted waiting entry move.
// The only backwards edge is notified -> waiting.
func CanTransition(from, to WaitingStatus) bool {
	switch from {
	case WaitingStatusWaiting:
		return to == WaitingStatusNotified || to == WaitingStatusExpired || to == WaitingStatusCancelled
	case WaitingStatusNotified:
		return to == WaitingStatusWaiting || to == WaitingStatusConfirmed ||
			to == WaitingStatusExpired || to == WaitingStatusCancelled
	}
	return false
}

// NotificationMethod is a delivery channel the external notifier understands.
type NotificationMethod string

const (
	NotificationEmail NotificationMethod = "email"
	NotificationSMS   NotificationMethod = "sms"
	NotificationPush  NotificationMethod = "push"
	NotificationInApp NotificationMethod = "in_app"
)

// WaitingEntry is one party's unmet demand for a resource.
type WaitingEntry struct {
	ID                         string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	ResourceID                 string        `gorm:"type:varchar(128);index:idx_waiting_resource_status;not null" json:"resource_id"`
	UserID                     string        `gorm:"type:varchar(128);index;not null" json:"user_id"`
	DesiredStart               time.Time     `gorm:"not null" json:"desired_start"`
	DesiredEnd                 time.Time     `gorm:"not null" json:"desired_end"`
	Priority                   Priority      `gorm:"type:varchar(16);not null" json:"priority"`
	AcceptAlternatives         bool          `gorm:"not null;default:false" json:"accept_alternatives"`
	AcceptAlternativeResources bool          `gorm:"not null;default:false" json:"accept_alternative_resources"`
	ConfirmationTimeLimit      int           `gorm:"not null" json:"confirmation_time_limit_minutes"`
	Status                     WaitingStatus `gorm:"type:varchar(16);index:idx_waiting_resource_status;not null" json:"status"`
	MaxWaitTimeHours           *int          `json:"max_wait_time_hours,omitempty"`

	NotificationMethods []NotificationMethod `gorm:"type:text;serializer:json" json:"notification_methods"`

	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	// Outstanding offer, set while notified.
	OfferStart    *time.Time `json:"offer_start,omitempty"`
	OfferEnd      *time.Time `json:"offer_end,omitempty"`
	OfferDeadline *time.Time `json:"offer_deadline,omitempty"`

	ReservationID     *string `gorm:"type:varchar(36)" json:"reservation_id,omitempty"`
	DeclineCount      int     `gorm:"not null;default:0" json:"decline_count"`
	LastDeclineReason string  `gorm:"type:text" json:"last_decline_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WaitingEntry) TableName() string {
	return "waiting_entries"
}

// Desired returns the entry's requested interval.
func (e WaitingEntry) Desired() Interval {
	return Interval{Start: e.DesiredStart, End: e.DesiredEnd}
}

// ConfirmationWindow returns the time allowed to answer an offer.
func (e WaitingEntry) ConfirmationWindow() time.Duration {
	return time.Duration(e.ConfirmationTimeLimit) * time.Minute
}

// WaitExceeded reports whether the entry's max wait time has elapsed at now.
func (e WaitingEntry) WaitExceeded(now time.Time) bool {
	if e.MaxWaitTimeHours == nil || *e.MaxWaitTimeHours <= 0 {
		return false
	}
	limit := e.RequestedAt.Add(time.Duration(*e.MaxWaitTimeHours) * time.Hour)
	return !now.Before(limit)
}

// Ranks reports whether e should be served before other: priority desc,
// then requestedAt asc, then id for a total order.
func (e WaitingEntry) Ranks(other WaitingEntry) bool {
	if pw, ow := e.Priority.Weight(), other.Priority.Weight(); pw != ow {
		return pw > ow
	}
	if !e.RequestedAt.Equal(other.RequestedAt) {
		return e.RequestedAt.Before(other.RequestedAt)
	}
	return e.ID < other.ID
}

// QueuedEntry is a read-only ranked view of a waiting entry.
type QueuedEntry struct {
	WaitingEntry
	Position int `json:"position"`
}

// Offer is a time-bounded proposal of a freed slot to one waiting entry.
type Offer struct {
	EntryID    string    `json:"entry_id"`
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	Freed      Interval  `json:"freed"`
	Slot       Interval  `json:"slot"`
	OfferedAt  time.Time `json:"offered_at"`
	Deadline   time.Time `json:"deadline"`
}
