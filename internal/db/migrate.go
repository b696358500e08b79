/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/grimnir_reserve/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Reservation{},
		&models.WaitingEntry{},
	); err != nil {
		return err
	}

	if err := applyPostgresReservationOverlapGuard(database); err != nil {
		return err
	}
	return nil
}

// applyPostgresReservationOverlapGuard rejects overlapping confirmed rows for
// one resource at the database level. Buffers are enforced in process only.
func applyPostgresReservationOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_reservation_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'reservation end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF NEW.status = 'confirmed' AND EXISTS (
    SELECT 1
    FROM reservations r
    WHERE r.resource_id = NEW.resource_id
      AND r.id <> NEW.id
      AND r.status = 'confirmed'
      AND tstzrange(r.starts_at, r.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping reservation for resource %', NEW.resource_id
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_reservation_overlap ON reservations;

CREATE TRIGGER trg_prevent_reservation_overlap
BEFORE INSERT OR UPDATE OF resource_id, starts_at, ends_at, status
ON reservations
FOR EACH ROW
EXECUTE FUNCTION prevent_reservation_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres reservation overlap guard: %w", err)
	}

	return nil
}
