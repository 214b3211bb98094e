package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"assetforge/internal/logging"
)

// Apply выполняет изменения по порядку и возвращает реально применённые.
// Объекты, которые уже существуют, пропускаются: в applied они не попадают,
// чтобы компенсация не удалила чужие (ранее созданные) колонки.
func Apply(ctx context.Context, db *gorm.DB, changes []Change) (applied []Change, err error) {
	for _, ch := range changes {
		sqlText := strings.TrimSpace(ch.Up)
		if sqlText == "" {
			continue
		}
		if err := db.WithContext(ctx).Exec(sqlText).Error; err != nil {
			if IsAlreadyExists(err) {
				logging.Debug("DDL skipped (already exists)", "change", ch.String(), "error", err.Error())
				continue
			}
			return applied, &ApplyError{Change: ch, Err: err}
		}
		applied = append(applied, ch)
	}
	return applied, nil
}

// ApplyError: упавшая DDL-операция.
type ApplyError struct {
	Change Change
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("DDL apply failed (%s): %v", e.Change, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Revert откатывает применённые изменения в обратном порядке.
// Ошибки собираются, откат продолжается (best effort).
func Revert(ctx context.Context, db *gorm.DB, applied []Change) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		ch := applied[i]
		if strings.TrimSpace(ch.Down) == "" {
			errs = append(errs, fmt.Errorf("%s is not reversible", ch))
			continue
		}
		if err := db.WithContext(ctx).Exec(ch.Down).Error; err != nil {
			errs = append(errs, fmt.Errorf("revert %s: %w", ch, err))
			continue
		}
		logging.Warn("DDL reverted", "change", ch.String())
	}
	return errors.Join(errs...)
}

// IsAlreadyExists распознаёт "объект уже существует" у всех поддерживаемых СУБД.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	// 42701 duplicate_column, 42P07 duplicate_table, 42710 duplicate_object
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42701", "42P07", "42710":
			return true
		}
		return false
	}
	// 1050 table exists, 1060 duplicate column
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1050 || myErr.Number == 1060
	}
	// sqlite/sqlserver: по тексту
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "already exists") ||
		strings.Contains(e, "duplicate column") ||
		strings.Contains(e, "column names in each table must be unique")
}
