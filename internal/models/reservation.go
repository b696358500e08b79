/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ReservationStatus captures the reservation lifecycle.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationRejected  ReservationStatus = "rejected"
)

// ReservationSource records how a reservation came to exist.
type ReservationSource string

const (
	ReservationSourceDirect      ReservationSource = "direct"
	ReservationSourceWaitingList ReservationSource = "waiting_list"
)

// Reservation is a booking of one resource for one interval.
type Reservation struct {
	ID             string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	ResourceID     string            `gorm:"type:varchar(128);index:idx_reservations_resource_time;not null" json:"resource_id"`
	UserID         string            `gorm:"type:varchar(128);index;not null" json:"user_id"`
	StartsAt       time.Time         `gorm:"index:idx_reservations_resource_time;not null" json:"start"`
	EndsAt         time.Time         `gorm:"not null" json:"end"`
	Status         ReservationStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Source         ReservationSource `gorm:"type:varchar(16);not null;default:'direct'" json:"source"`
	WaitingEntryID *string           `gorm:"type:varchar(36)" json:"waiting_entry_id,omitempty"`

	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy  string     `gorm:"type:varchar(128)" json:"cancelled_by,omitempty"`
	CancelReason string     `gorm:"type:text" json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Reservation) TableName() string {
	return "reservations"
}

// Interval returns the reserved time range.
func (r Reservation) Interval() Interval {
	return Interval{Start: r.StartsAt, End: r.EndsAt}
}

// IsActive reports whether the reservation holds its interval.
func (r Reservation) IsActive() bool {
	return r.Status == ReservationConfirmed
}
