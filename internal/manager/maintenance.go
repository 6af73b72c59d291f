package manager

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/agentdock/memengine/internal/domain"
	"github.com/agentdock/memengine/internal/lifecycle"
)

// MaintenanceResult tallies one RunMaintenanceCycle pass.
type MaintenanceResult struct {
	RulesApplied int
	Promoted     int
	Archived     int
	Deleted      int
	Evicted      int
}

// RunMaintenanceCycle applies the lifecycle engine's promotion, cleanup,
// and overflow-eviction rules to every record of (userID, agentID).
// Unlike lazy decay, which only ever adjusts resonance on read, this is
// the batch pass that actually moves records between tiers and removes
// them. Callers run it on their own schedule (a cron, a worker loop);
// Manager takes no position on cadence.
func (m *Manager) RunMaintenanceCycle(ctx context.Context, userID, agentID string, engine *lifecycle.Engine) (MaintenanceResult, error) {
	if userID == "" || agentID == "" {
		return MaintenanceResult{}, domain.NewError(domain.KindInvalidArgument, "manager", "runMaintenanceCycle", nil)
	}

	var all []domain.Record
	for _, t := range domain.AllMemoryTypes() {
		tt := t
		recs, err := m.store.RecallRecords(ctx, userID, agentID, "", domain.RecallQuery{Type: &tt, IncludeArchived: true})
		if err != nil {
			return MaintenanceResult{}, err
		}
		all = append(all, recs...)
	}

	now := time.Now()
	var result MaintenanceResult
	surviving := make([]domain.Record, 0, len(all))

	for _, rec := range all {
		if rec.Status != domain.StatusActive {
			// Already archived: the only further action is TTL-elapsed
			// hard deletion.
			if decision := engine.Evaluate(rec, now); decision.Delete {
				if err := m.store.DeleteRecord(ctx, userID, agentID, rec.ID); err != nil {
					m.logger.Warn("maintenance: failed to delete expired archive", zap.String("id", rec.ID), zap.Error(err))
					surviving = append(surviving, rec)
					continue
				}
				result.Deleted++
				continue
			}
			surviving = append(surviving, rec)
			continue
		}

		// Apply the ordered decay rules before anything else this cycle:
		// a matching rule's decayRate is converted to half-life days and
		// written onto the record, so lazy decay reads the rule-derived
		// half-life from then on. The canonical representation on the
		// record is always half-life days, never a rate.
		if halfLife, never, ruleID := engine.DecayRateFor(rec); ruleID != "" {
			changed := false
			if halfLife > 0 && rec.CustomHalfLifeDays != halfLife {
				rec.CustomHalfLifeDays = halfLife
				changed = true
			}
			if rec.NeverDecay != never {
				rec.NeverDecay = never
				changed = true
			}
			if changed {
				if _, err := m.store.StoreRecord(ctx, &rec); err != nil {
					m.logger.Warn("maintenance: failed to persist decay rule outcome",
						zap.String("id", rec.ID), zap.String("ruleId", ruleID), zap.Error(err))
				} else {
					result.RulesApplied++
				}
			}
		}

		ageDays := now.Sub(rec.CreatedAt).Hours() / 24
		if engine.ShouldPromote(rec, ageDays) {
			m.promote(ctx, rec, now, engine, &result, &surviving)
			continue
		}

		switch decision := engine.Evaluate(rec, now); {
		case decision.Delete:
			if err := m.store.DeleteRecord(ctx, userID, agentID, rec.ID); err != nil {
				m.logger.Warn("maintenance: failed to delete record", zap.String("id", rec.ID), zap.Error(err))
				surviving = append(surviving, rec)
				continue
			}
			result.Deleted++
		case decision.Archive:
			m.archive(ctx, &rec, now, engine)
			if _, err := m.store.StoreRecord(ctx, &rec); err != nil {
				m.logger.Warn("maintenance: failed to archive record", zap.String("id", rec.ID), zap.Error(err))
			} else {
				result.Archived++
			}
			surviving = append(surviving, rec)
		default:
			surviving = append(surviving, rec)
		}
	}

	for _, id := range engine.EvictOverflow(surviving) {
		if err := m.store.DeleteRecord(ctx, userID, agentID, id); err != nil {
			m.logger.Warn("maintenance: failed to evict overflow record", zap.String("id", id), zap.Error(err))
			continue
		}
		result.Evicted++
	}

	if result.RulesApplied+result.Promoted+result.Archived+result.Deleted+result.Evicted > 0 {
		m.recall.InvalidateCache(userID, agentID)
	}
	return result, nil
}

// promote writes a semantic-tier copy of rec and, unless the engine says to
// preserve the episodic original, archives rec in place. Both the new
// record and the (possibly archived) original are appended to surviving so
// EvictOverflow still sees them.
func (m *Manager) promote(ctx context.Context, rec domain.Record, now time.Time, engine *lifecycle.Engine, result *MaintenanceResult, surviving *[]domain.Record) {
	promoted := rec
	promoted.ID = domain.NewRecordID()
	promoted.Type = domain.TypeSemantic
	promoted.CreatedAt = now
	promoted.UpdatedAt = now
	promoted.LastAccessedAt = now

	if _, err := m.store.StoreRecord(ctx, &promoted); err != nil {
		m.logger.Warn("maintenance: failed to persist promoted record", zap.String("sourceId", rec.ID), zap.Error(err))
		*surviving = append(*surviving, rec)
		return
	}
	result.Promoted++
	*surviving = append(*surviving, promoted)

	if engine.PreserveOriginal() {
		*surviving = append(*surviving, rec)
		return
	}

	m.archive(ctx, &rec, now, engine)
	if _, err := m.store.StoreRecord(ctx, &rec); err != nil {
		m.logger.Warn("maintenance: failed to archive promoted source", zap.String("id", rec.ID), zap.Error(err))
	}
	*surviving = append(*surviving, rec)
}

// archive marks rec archived and, when the engine is configured to keep
// archives, writes a JSON snapshot into the KV store under the engine's
// archive key pattern with the configured TTL. rec.UpdatedAt becomes the
// archival timestamp Evaluate later measures the TTL against.
func (m *Manager) archive(ctx context.Context, rec *domain.Record, now time.Time, engine *lifecycle.Engine) {
	rec.Status = domain.StatusArchived
	rec.UpdatedAt = now

	if !engine.ArchiveEnabled() {
		return
	}
	snapshot, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn("maintenance: failed to marshal archive snapshot", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	key := engine.ArchiveKey(rec.AgentID, rec.ID)
	opts := &domain.SetOptions{TTLSeconds: engine.ArchiveTTLSeconds()}
	if err := m.store.Set(ctx, key, snapshot, opts); err != nil {
		m.logger.Warn("maintenance: failed to write archive snapshot", zap.String("id", rec.ID), zap.Error(err))
	}
}
