// Package review implements the human review workflow over stored
// detections: single and bulk resolution, scoped listing and GPS cluster
// grouping.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/metrics"
	"github.com/oslsr/kestrel/internal/validation"
)

// ValidationError carries one message per invalid request field.
type ValidationError = validation.Error

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store is the persistence the review workflow needs.
type Store interface {
	GetDetection(ctx context.Context, id string) (*domain.Detection, error)
	GetDetections(ctx context.Context, ids []string) ([]*domain.Detection, error)
	ListDetections(ctx context.Context, filter domain.DetectionFilter) ([]*domain.Detection, int, error)
	ListClusterCandidates(ctx context.Context, enumeratorIDs []string) ([]*domain.Detection, error)
	ResolveDetections(ctx context.Context, ids []string, review domain.DetectionReview) error
}

// ReviewRequest resolves one detection.
type ReviewRequest struct {
	Resolution      string `json:"resolution" validate:"required,resolution"`
	ResolutionNotes string `json:"resolutionNotes,omitempty" validate:"max=1000"`
}

// BulkReviewRequest resolves 2 to 50 detections with one shared note.
type BulkReviewRequest struct {
	IDs             []string `json:"ids" validate:"required,min=2,max=50,unique,dive,required"`
	Resolution      string   `json:"resolution" validate:"required,resolution"`
	ResolutionNotes string   `json:"resolutionNotes" validate:"required,min=10,max=500"`
}

// BulkResult summarises an applied bulk review.
type BulkResult struct {
	Count      int               `json:"count"`
	Resolution domain.Resolution `json:"resolution"`
	IDs        []string          `json:"ids"`
}

// Filter narrows a detection listing. Severity is a comma separated list;
// Resolution is "unreviewed" or a resolution value. LatestOnly defaults to
// true.
type Filter struct {
	Severity     string
	Resolution   string
	Reviewed     *bool
	EnumeratorID string
	DateFrom     *time.Time
	DateTo       *time.Time
	Page         int
	PageSize     int
	LatestOnly   *bool
}

// Service is the review workflow.
type Service struct {
	store    Store
	teams    domain.TeamScope
	hook     domain.AccountStatusHook
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the review workflow. hook and m may be nil.
func NewService(store Store, teams domain.TeamScope, hook domain.AccountStatusHook, m *metrics.Metrics) *Service {
	v := validation.New()
	_ = v.RegisterValidation("resolution", func(fl validator.FieldLevel) bool {
		return domain.Resolution(fl.Field().String()).Valid()
	})

	return &Service{
		store:    store,
		teams:    teams,
		hook:     hook,
		validate: v,
		metrics:  m,
		logger:   slog.Default().With("component", "review"),
		now:      time.Now,
	}
}

// scope returns the enumerators the actor may act on; nil means
// unrestricted.
func (s *Service) scope(ctx context.Context, actor domain.Actor) ([]string, error) {
	switch actor.Role {
	case domain.RoleSuperAdmin, domain.RoleVerificationAssessor:
		return nil, nil
	case domain.RoleSupervisor:
		ids, err := s.teams.EnumeratorIDsForSupervisor(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load team of %s: %w", actor.ID, err)
		}
		if ids == nil {
			ids = []string{}
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("%w: role %q cannot review detections", domain.ErrForbidden, actor.Role)
	}
}

func inScope(scope []string, enumeratorID string) bool {
	return scope == nil || slices.Contains(scope, enumeratorID)
}

// Get returns one detection visible to the actor.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Detection, error) {
	scope, err := s.scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	det, err := s.store.GetDetection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inScope(scope, det.EnumeratorID) {
		return nil, fmt.Errorf("%w: detection %s is outside your team", domain.ErrForbidden, id)
	}
	return det, nil
}

// List returns one page of detections visible to the actor, newest first.
func (s *Service) List(ctx context.Context, actor domain.Actor, f Filter) (*domain.DetectionPage, error) {
	verr := &ValidationError{}
	filter := domain.DetectionFilter{
		Reviewed:     f.Reviewed,
		EnumeratorID: f.EnumeratorID,
		DateFrom:     f.DateFrom,
		DateTo:       f.DateTo,
		LatestOnly:   f.LatestOnly == nil || *f.LatestOnly,
	}

	if f.Severity != "" {
		for _, v := range strings.Split(f.Severity, ",") {
			sev, err := domain.ParseSeverity(strings.TrimSpace(v))
			if err != nil {
				verr.Add("severity", fmt.Sprintf("severity must be a comma separated list of: %s", joinSeverities()))
				break
			}
			filter.Severities = append(filter.Severities, sev)
		}
	}
	switch f.Resolution {
	case "":
	case "unreviewed":
		filter.Unreviewed = true
	default:
		res, err := domain.ParseResolution(f.Resolution)
		if err != nil {
			verr.Add("resolution", "resolution must be unreviewed or a resolution value")
			break
		}
		filter.Resolution = &res
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		verr.Add("dateTo", "dateTo must not be before dateFrom")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	filter.Page = max(f.Page, 1)
	filter.PageSize = f.PageSize
	if filter.PageSize == 0 {
		filter.PageSize = defaultPageSize
	}
	filter.PageSize = min(max(filter.PageSize, 1), maxPageSize)

	scope, err := s.scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	filter.EnumeratorIDs = scope

	page := &domain.DetectionPage{Data: []*domain.Detection{}, Page: filter.Page, PageSize: filter.PageSize}
	if scope != nil && len(scope) == 0 {
		return page, nil
	}

	dets, total, err := s.store.ListDetections(ctx, filter)
	if err != nil {
		return nil, err
	}
	page.Data = dets
	page.Total = total
	return page, nil
}

func joinSeverities() string {
	names := make([]string, len(domain.Severities))
	for i, s := range domain.Severities {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// Review resolves one detection.
func (s *Service) Review(ctx context.Context, actor domain.Actor, id string, req ReviewRequest) (*domain.Detection, error) {
	if err := validation.Struct(s.validate, req).OrNil(); err != nil {
		return nil, err
	}

	det, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if det.Resolved() {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyResolved, id)
	}

	review := domain.DetectionReview{
		Resolution:      domain.Resolution(req.Resolution),
		ResolutionNotes: req.ResolutionNotes,
		ReviewedBy:      actor.ID,
		ReviewedAt:      s.now().UTC(),
	}
	if err := s.store.ResolveDetections(ctx, []string{id}, review); err != nil {
		return nil, err
	}
	det.Review = &review

	s.metrics.Reviewed(req.Resolution, 1)
	s.logger.Info("detection reviewed",
		"event", "fraud.detection.reviewed",
		"detection_id", id,
		"reviewer_id", actor.ID,
		"resolution", req.Resolution,
	)
	s.notify(ctx, []*domain.Detection{det}, review)
	return det, nil
}

// BulkReview resolves every requested detection with the same resolution
// and note, or none of them.
func (s *Service) BulkReview(ctx context.Context, actor domain.Actor, req BulkReviewRequest) (*BulkResult, error) {
	if err := validation.Struct(s.validate, req).OrNil(); err != nil {
		return nil, err
	}

	scope, err := s.scope(ctx, actor)
	if err != nil {
		return nil, err
	}

	dets, err := s.store.GetDetections(ctx, req.IDs)
	if err != nil {
		return nil, err
	}
	if len(dets) != len(req.IDs) {
		return nil, fmt.Errorf("%w: detections %s", domain.ErrNotFound, strings.Join(missing(req.IDs, dets), ", "))
	}

	if scope != nil && len(scope) == 0 {
		return nil, fmt.Errorf("%w: no enumerators are assigned to you", domain.ErrForbidden)
	}
	for _, d := range dets {
		if !inScope(scope, d.EnumeratorID) {
			return nil, fmt.Errorf("%w: detection %s is outside your team", domain.ErrForbidden, d.ID)
		}
	}
	for _, d := range dets {
		if d.Resolved() {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyResolved, d.ID)
		}
	}

	review := domain.DetectionReview{
		Resolution:      domain.Resolution(req.Resolution),
		ResolutionNotes: req.ResolutionNotes,
		ReviewedBy:      actor.ID,
		ReviewedAt:      s.now().UTC(),
	}
	if err := s.store.ResolveDetections(ctx, req.IDs, review); err != nil {
		return nil, err
	}

	s.metrics.Reviewed(req.Resolution, len(req.IDs))
	s.logger.Info("detections bulk reviewed",
		"event", "fraud.detection.bulk_reviewed",
		"count", len(req.IDs),
		"reviewer_id", actor.ID,
		"resolution", req.Resolution,
	)
	s.notify(ctx, dets, review)

	return &BulkResult{Count: len(req.IDs), Resolution: review.Resolution, IDs: req.IDs}, nil
}

func missing(ids []string, found []*domain.Detection) []string {
	seen := make(map[string]bool, len(found))
	for _, d := range found {
		seen[d.ID] = true
	}
	var out []string
	for _, id := range ids {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// notify calls the account hook once per distinct enumerator when the
// resolution affects accounts. Hook failures are logged; the review is
// already committed.
func (s *Service) notify(ctx context.Context, dets []*domain.Detection, review domain.DetectionReview) {
	if s.hook == nil || !review.Resolution.AffectsAccount() {
		return
	}
	seen := map[string]bool{}
	for _, d := range dets {
		if seen[d.EnumeratorID] {
			continue
		}
		seen[d.EnumeratorID] = true
		if err := s.hook.OnEnumeratorResolution(ctx, d.EnumeratorID, review.Resolution, review.ReviewedBy); err != nil {
			s.logger.Error("account status hook failed",
				"enumerator_id", d.EnumeratorID,
				"resolution", review.Resolution,
				"error", err,
			)
		}
	}
}

// Clusters groups the unreviewed GPS-flagged detections visible to the
// actor.
func (s *Service) Clusters(ctx context.Context, actor domain.Actor) ([]Cluster, error) {
	scope, err := s.scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if scope != nil && len(scope) == 0 {
		return []Cluster{}, nil
	}
	dets, err := s.store.ListClusterCandidates(ctx, scope)
	if err != nil {
		return nil, err
	}
	return BuildClusters(dets, nil), nil
}
