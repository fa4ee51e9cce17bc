package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"
)

// BypassKind classifies the ways a statement can execute without row-level
// filtering.
type BypassKind string

// Bypass kinds.
const (
	// BypassSkip marks statements whose context carries an explicit opt-out.
	BypassSkip BypassKind = "skip_authz"
	// BypassNoEntity marks statements with no recognizable model target,
	// typically raw SQL and row scans.
	BypassNoEntity BypassKind = "no_entity"
	// BypassUnprotectedGet marks statements against an entity with
	// registered policies that execute without an actor.
	BypassUnprotectedGet BypassKind = "unprotected_get"
)

func (k BypassKind) String() string { return string(k) }

// statementFingerprint produces a stable short identifier for a statement so
// repeated occurrences of the same unprotected access pattern can be grouped
// in audit logs without logging the statement's bind values.
func statementFingerprint(db *gorm.DB) string {
	s := db.Statement.SQL.String()
	if s == "" {
		s = db.Statement.Table
	}
	if s == "" {
		s = fmt.Sprintf("%T", db.Statement.Dest)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

func statementDetail(db *gorm.DB) string {
	if t := db.Statement.Table; t != "" {
		return "table " + t
	}
	if s := db.Statement.SQL.String(); s != "" {
		return "raw statement " + statementFingerprint(db)
	}
	return "statement " + statementFingerprint(db)
}

// handleBypass applies the configured response for a detected bypass and
// reports whether execution may proceed.
func (g *Guard) handleBypass(ctx context.Context, db *gorm.DB, cfg Config, kind BypassKind, mode BypassMode) bool {
	detail := statementDetail(db)

	switch mode {
	case BypassRaise:
		_ = db.AddError(&BypassError{Kind: kind, Detail: detail})
		g.auditBypass(ctx, db, cfg, kind, detail)
		g.obs.Metrics().RecordBypass(ctx, kind.String())
		return false
	case BypassWarn:
		g.logger.LogAttrs(ctx, slog.LevelWarn, "authorization bypass",
			slog.String("kind", kind.String()),
			slog.String("detail", detail),
			slog.String("fingerprint", statementFingerprint(db)))
	}
	g.auditBypass(ctx, db, cfg, kind, detail)
	g.obs.Metrics().RecordBypass(ctx, kind.String())
	return true
}

// handleSkip applies the configured response for an explicit opt-out.
func (g *Guard) handleSkip(ctx context.Context, db *gorm.DB, cfg Config) {
	switch cfg.skip() {
	case SkipWarn:
		g.logger.LogAttrs(ctx, slog.LevelWarn, "authorization skipped",
			slog.String("detail", statementDetail(db)))
	case SkipLog:
		g.logger.LogAttrs(ctx, slog.LevelInfo, "authorization skipped",
			slog.String("detail", statementDetail(db)))
	}
	g.auditBypass(ctx, db, cfg, BypassSkip, statementDetail(db))
	g.obs.Metrics().RecordBypass(ctx, BypassSkip.String())
}

func (g *Guard) auditBypass(ctx context.Context, db *gorm.DB, cfg Config, kind BypassKind, detail string) {
	if !cfg.auditBypasses() {
		return
	}
	g.logger.LogAttrs(ctx, slog.LevelInfo, "authz audit",
		slog.String("kind", kind.String()),
		slog.String("detail", detail),
		slog.String("fingerprint", statementFingerprint(db)),
		slog.Any("actor", actorID(ActorFromContext(ctx))))
}
