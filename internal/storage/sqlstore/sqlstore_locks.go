package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/zhouzirui/turnkeeper/internal/apierr"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

// ClaimLock reads the session's lock row and then inserts or refreshes it
// inside one serializable transaction, so the read and the write commit
// together or not at all and two claimants cannot both succeed.
func (s *SQLStore) ClaimLock(ctx context.Context, slug, owner string, ttlSeconds int) (model.Lock, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.Lock{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return model.Lock{}, apierr.Wrap(apierr.KindInternal, err, "begin claim tx")
	}
	defer tx.Rollback()

	now := time.Now()
	newLock := model.Lock{SessionSlug: slug, Owner: owner, TTLSeconds: ttlSeconds, AcquiredAt: now}

	var existingOwner, existingAcquiredAt string
	var existingTTL int
	err = tx.QueryRowContext(ctx, `SELECT owner, ttl_seconds, acquired_at FROM locks WHERE session_id = ?`, id).
		Scan(&existingOwner, &existingTTL, &existingAcquiredAt)

	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO locks(session_id, owner, ttl_seconds, acquired_at) VALUES (?, ?, ?, ?)`,
			id, owner, ttlSeconds, now.UTC().Format(time.RFC3339Nano)); err != nil {
			return model.Lock{}, apierr.Wrap(apierr.KindInternal, err, "insert lock")
		}
	case err != nil:
		return model.Lock{}, apierr.Wrap(apierr.KindInternal, err, "read lock")
	default:
		existing := model.Lock{SessionSlug: slug, Owner: existingOwner, TTLSeconds: existingTTL, AcquiredAt: parseTime(existingAcquiredAt)}
		if !existing.Expired(now) && existing.Owner != owner {
			return model.Lock{}, apierr.Newf(apierr.KindLockHeld, "session %q is locked by %q", slug, existing.Owner).
				WithDetails(map[string]any{"owner": existing.Owner})
		}
		if _, err := tx.ExecContext(ctx, `UPDATE locks SET owner = ?, ttl_seconds = ?, acquired_at = ? WHERE session_id = ?`,
			owner, ttlSeconds, now.UTC().Format(time.RFC3339Nano), id); err != nil {
			return model.Lock{}, apierr.Wrap(apierr.KindInternal, err, "refresh lock")
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Lock{}, apierr.Wrap(apierr.KindInternal, err, "commit claim")
	}
	return newLock, nil
}

// ReleaseLock removes the lock row if owner matches or is empty.
func (s *SQLStore) ReleaseLock(ctx context.Context, slug, owner string) error {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return err
	}
	lock, held, err := s.getLockByID(ctx, id, slug)
	if err != nil {
		return err
	}
	if !held {
		return nil
	}
	if owner != "" && lock.Owner != owner {
		return apierr.Newf(apierr.KindLockOwnerMismatch, "session %q is locked by %q, not %q", slug, lock.Owner, owner)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE session_id = ?`, id); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "release lock")
	}
	return nil
}

// GetLock returns the raw lock record without evaluating expiry.
func (s *SQLStore) GetLock(ctx context.Context, slug string) (model.Lock, bool, error) {
	id, err := s.sessionID(ctx, s.db, slug)
	if err != nil {
		return model.Lock{}, false, err
	}
	return s.getLockByID(ctx, id, slug)
}

func (s *SQLStore) getLockByID(ctx context.Context, id int64, slug string) (model.Lock, bool, error) {
	var owner, acquiredAt string
	var ttl int
	err := s.db.QueryRowContext(ctx, `SELECT owner, ttl_seconds, acquired_at FROM locks WHERE session_id = ?`, id).Scan(&owner, &ttl, &acquiredAt)
	if err == sql.ErrNoRows {
		return model.Lock{}, false, nil
	}
	if err != nil {
		return model.Lock{}, false, apierr.Wrap(apierr.KindInternal, err, "read lock")
	}
	return model.Lock{SessionSlug: slug, Owner: owner, TTLSeconds: ttl, AcquiredAt: parseTime(acquiredAt)}, true, nil
}
