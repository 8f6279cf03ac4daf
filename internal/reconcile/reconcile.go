// Package reconcile decides whether a normalized candidate inserts a new
// repairer, updates an existing one, or is skipped, and performs the write.
// It is the only writer of repairer records.
package reconcile

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/normalize"
	"github.com/sells-group/repairer-sync/internal/store"
)

// maxWriteAttempts bounds the lookup/write loop when another writer wins a
// uniqueness race between our lookup and our insert.
const maxWriteAttempts = 3

// Outcome is the result of reconciling one candidate.
type Outcome struct {
	Decision model.MergeDecision
	RecordID int64
}

// Reconciler resolves candidate identity against the record store.
type Reconciler struct {
	store store.RecordStore
	locks *keyLock
}

// New creates a Reconciler writing through st.
func New(st store.RecordStore) *Reconciler {
	return &Reconciler{store: st, locks: newKeyLock()}
}

// Reconcile resolves c's identity and applies the insert/update/skip rule.
// Identity is the (source, external id) pair when c carries one, then the
// composite identity key regardless of source. A match is updated when c is
// at least as complete as the stored record and left alone otherwise.
func (r *Reconciler) Reconcile(ctx context.Context, c model.Candidate) (Outcome, error) {
	if normalize.Fold(c.Name) == "" {
		return Outcome{}, eris.Wrap(normalize.ErrMalformed, "reconcile: candidate has no name")
	}
	key := normalize.IdentityKey(c.Name, c.City, c.RawAddress)

	unlock := r.locks.Lock(lockKeys(c, key)...)
	defer unlock()

	log := zap.L().With(zap.String("component", "reconcile"), zap.String("identity_key", key))

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		existing, err := r.lookup(ctx, c, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			rec := &model.PersistedRecord{IdentityKey: key, Candidate: c}
			if c.ExternalID != "" {
				rec.ExternalSource = c.Source
			}
			id, err := r.store.InsertRecord(ctx, rec)
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				log.Debug("reconcile: insert lost race, retrying lookup", zap.Int("attempt", attempt+1))
				continue
			}
			if err != nil {
				return Outcome{}, eris.Wrap(err, "reconcile: insert")
			}
			log.Debug("reconcile: inserted", zap.Int64("record_id", id))
			return Outcome{Decision: model.DecisionInsert, RecordID: id}, nil

		case err != nil:
			return Outcome{}, eris.Wrap(err, "reconcile: lookup")
		}

		if Completeness(c) < RecordCompleteness(existing) {
			log.Debug("reconcile: stored record is more complete, skipping",
				zap.Int64("record_id", existing.ID),
				zap.Int("incoming", Completeness(c)),
				zap.Int("stored", RecordCompleteness(existing)),
			)
			return Outcome{Decision: model.DecisionSkip, RecordID: existing.ID}, nil
		}

		merged := Merge(existing, c)
		if err := r.keepOwnedIdentities(ctx, existing, merged); err != nil {
			return Outcome{}, eris.Wrapf(err, "reconcile: check identities of record %d", existing.ID)
		}
		err = r.store.UpdateRecord(ctx, merged)
		if errors.Is(err, store.ErrConflict) {
			// Another writer took the new key or external id since the check.
			log.Debug("reconcile: identity taken during update, keeping stored identity",
				zap.Int64("record_id", existing.ID))
			merged.IdentityKey = existing.IdentityKey
			merged.ExternalID, merged.ExternalSource = existing.ExternalID, existing.ExternalSource
			err = r.store.UpdateRecord(ctx, merged)
		}
		if err != nil {
			return Outcome{}, eris.Wrapf(err, "reconcile: update record %d", existing.ID)
		}
		log.Debug("reconcile: updated", zap.Int64("record_id", existing.ID))
		return Outcome{Decision: model.DecisionUpdate, RecordID: existing.ID}, nil
	}
	return Outcome{}, eris.Wrapf(lastErr, "reconcile: gave up after %d attempts", maxWriteAttempts)
}

// keepOwnedIdentities reverts merged's identity key or adopted external id
// to the stored values when another record already owns them. The merged
// record then stays findable through its old identity, and the other record
// through the new one.
func (r *Reconciler) keepOwnedIdentities(ctx context.Context, existing, merged *model.PersistedRecord) error {
	if merged.IdentityKey != existing.IdentityKey {
		other, err := r.store.FindByIdentityKey(ctx, merged.IdentityKey)
		switch {
		case err == nil && other.ID != existing.ID:
			merged.IdentityKey = existing.IdentityKey
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	if merged.ExternalID != existing.ExternalID {
		other, err := r.store.FindByExternalID(ctx, merged.ExternalSource, merged.ExternalID)
		switch {
		case err == nil && other.ID != existing.ID:
			merged.ExternalID, merged.ExternalSource = existing.ExternalID, existing.ExternalSource
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	return nil
}

func (r *Reconciler) lookup(ctx context.Context, c model.Candidate, key string) (*model.PersistedRecord, error) {
	if c.ExternalID != "" {
		rec, err := r.store.FindByExternalID(ctx, c.Source, c.ExternalID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return r.store.FindByIdentityKey(ctx, key)
}

func lockKeys(c model.Candidate, key string) []string {
	keys := []string{"key:" + key}
	if c.ExternalID != "" {
		keys = append(keys, "ext:"+string(c.Source)+":"+c.ExternalID)
	}
	return keys
}
