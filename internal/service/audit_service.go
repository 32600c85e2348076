package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"saferide-backend/internal/model"
	"saferide-backend/pkg/apierror"
)

type AuditStore interface {
	Append(ctx context.Context, event model.AuditEvent) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEvent, model.Meta, error)
}

// AuditService is the audit sink used by the auth flows. Every event is also
// written to the structured log so it survives a store outage.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

func (s *AuditService) Append(ctx context.Context, event model.AuditEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	level := slog.LevelInfo
	if event.Outcome == model.AuditOutcomeFailure {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "audit",
		"action", event.Action,
		"outcome", event.Outcome,
		"principal_id", event.PrincipalID,
		"resource", event.Resource,
		"source", event.Source,
		"detail", event.Detail,
	)

	if s == nil || s.store == nil {
		return nil
	}

	return s.store.Append(ctx, event)
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEvent, model.Meta, error) {
	if _, err := parseOptionalAuditTime(query.From); err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'from' datetime format", query.From)
	}
	if _, err := parseOptionalAuditTime(query.To); err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'to' datetime format", query.To)
	}

	query.Outcome = strings.ToLower(strings.TrimSpace(query.Outcome))
	if query.Outcome != "" && query.Outcome != model.AuditOutcomeSuccess && query.Outcome != model.AuditOutcomeFailure {
		return nil, model.Meta{}, apierror.BadRequest("invalid outcome filter", query.Outcome)
	}

	return s.store.Query(ctx, query)
}

func parseOptionalAuditTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}

	if value, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return value.UTC(), nil
	}

	value, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}

	return value.UTC(), nil
}
