// Package lifecycle drives the anomaly to remediation state machine. Client
// writes are checked against the transition table before any network call and
// go through the cache so the view only changes once the backend confirms.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/audit"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/session"
)

// Gateway is the write side of the backend the controller needs.
type Gateway interface {
	CreateRemediation(ctx context.Context, anomalyID, action string) (domain.Remediation, error)
	UpdateRemediationStatus(ctx context.Context, id string, from, to domain.RemediationStatus) (domain.Remediation, error)
	UpdateAnomalyStatus(ctx context.Context, id string, from, to domain.AnomalyStatus) (domain.Anomaly, error)
}

// Recorder receives audit entries for client writes.
type Recorder interface {
	Record(e audit.Entry) error
}

var (
	// ErrNotFound is returned when the target record is not in the backend's
	// current collection.
	ErrNotFound = errors.New("record not found")

	// ErrNotRemediable is returned when the anomaly's status does not allow a
	// new remediation.
	ErrNotRemediable = errors.New("anomaly is not remediable")
)

// Controller applies lifecycle transitions. It keeps no state of its own
// between calls; everything it knows comes from the store.
type Controller struct {
	gw    Gateway
	store *cache.Store
	guard *Guard
	audit Recorder
	log   *slog.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithGuard rate-limits initiations.
func WithGuard(g *Guard) Option {
	return func(c *Controller) { c.guard = g }
}

// WithAudit records every client write.
func WithAudit(r Recorder) Option {
	return func(c *Controller) { c.audit = r }
}

// New creates a controller over gw and store.
func New(gw Gateway, store *cache.Store, opts ...Option) *Controller {
	c := &Controller{
		gw:    gw,
		store: store,
		log:   slog.Default().With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate creates a Pending remediation for an Open or Acknowledged anomaly.
func (c *Controller) Initiate(ctx context.Context, anomalyID, action string) (domain.Remediation, error) {
	if anomalyID == "" {
		return domain.Remediation{}, errors.New("initiate: anomalyId is required")
	}
	if action == "" {
		return domain.Remediation{}, errors.New("initiate: action is required")
	}

	an, err := c.anomaly(ctx, anomalyID)
	if err != nil {
		return domain.Remediation{}, err
	}
	if !an.Status.Remediable() {
		c.record(audit.Entry{EventType: audit.EventRejected, AnomalyID: anomalyID, Action: action, From: string(an.Status), Outcome: audit.OutcomeBlocked, Reason: "anomaly not remediable"})
		return domain.Remediation{}, fmt.Errorf("%w: %s is %s", ErrNotRemediable, anomalyID, an.Status)
	}
	if err := c.guard.Allow(anomalyID); err != nil {
		c.record(audit.Entry{EventType: audit.EventRejected, AnomalyID: anomalyID, Action: action, Outcome: audit.OutcomeBlocked, Reason: err.Error()})
		return domain.Remediation{}, err
	}

	var created domain.Remediation
	key := cache.RemediationsKey(anomalyID)
	err = c.store.Mutate(ctx, key, func(ctx context.Context) error {
		rem, err := c.gw.CreateRemediation(ctx, anomalyID, action)
		if err != nil {
			return err
		}
		created = rem
		return nil
	}, c.dependents(key, cache.Remediations, cache.Anomalies)...)

	entry := audit.Entry{EventType: audit.EventRemediationCreate, AnomalyID: anomalyID, Action: action, To: string(domain.RemediationPending)}
	if err != nil {
		entry.Outcome, entry.Reason = audit.OutcomeFailed, err.Error()
		c.record(entry)
		return domain.Remediation{}, err
	}
	entry.TargetID, entry.Outcome = created.ID, audit.OutcomeOK
	c.record(entry)
	c.guard.Record(anomalyID)

	c.log.Info("remediation initiated", "remediation", created.ID, "anomaly", anomalyID, "action", action)
	return created, nil
}

// UpdateRemediationStatus writes a new status for remediation id. The current
// status comes from the store; a move outside the transition table fails with
// *domain.IllegalTransitionError and no request is sent.
func (c *Controller) UpdateRemediationStatus(ctx context.Context, id string, to domain.RemediationStatus) (domain.Remediation, error) {
	if _, err := domain.ParseRemediationStatus(string(to)); err != nil {
		return domain.Remediation{}, err
	}
	rem, err := c.remediation(ctx, id)
	if err != nil {
		return domain.Remediation{}, err
	}
	if !domain.CanTransition(rem.Status, to) {
		c.record(audit.Entry{EventType: audit.EventRejected, TargetID: id, AnomalyID: rem.AnomalyID, From: string(rem.Status), To: string(to), Outcome: audit.OutcomeBlocked, Reason: "illegal transition"})
		return domain.Remediation{}, &domain.IllegalTransitionError{Kind: "remediation", ID: id, From: string(rem.Status), To: string(to)}
	}

	var updated domain.Remediation
	key := cache.RemediationsKey(rem.AnomalyID)
	err = c.store.Mutate(ctx, key, func(ctx context.Context) error {
		r, err := c.gw.UpdateRemediationStatus(ctx, id, rem.Status, to)
		if err != nil {
			return err
		}
		updated = r
		return nil
	}, c.dependents(key, cache.Remediations)...)

	entry := audit.Entry{EventType: audit.EventRemediationStatus, TargetID: id, AnomalyID: rem.AnomalyID, From: string(rem.Status), To: string(to)}
	if err != nil {
		entry.Outcome, entry.Reason = audit.OutcomeFailed, err.Error()
		c.record(entry)
		return domain.Remediation{}, err
	}
	entry.Outcome = audit.OutcomeOK
	c.record(entry)
	return updated, nil
}

// UpdateAnomalyStatus writes a new status for anomaly id. Resolved anomalies
// accept no further writes.
func (c *Controller) UpdateAnomalyStatus(ctx context.Context, id string, to domain.AnomalyStatus) (domain.Anomaly, error) {
	if _, err := domain.ParseAnomalyStatus(string(to)); err != nil {
		return domain.Anomaly{}, err
	}
	an, err := c.anomaly(ctx, id)
	if err != nil {
		return domain.Anomaly{}, err
	}
	if an.Status.Terminal() {
		c.record(audit.Entry{EventType: audit.EventRejected, TargetID: id, From: string(an.Status), To: string(to), Outcome: audit.OutcomeBlocked, Reason: "anomaly resolved"})
		return domain.Anomaly{}, &domain.IllegalTransitionError{Kind: "anomaly", ID: id, From: string(an.Status), To: string(to)}
	}

	var updated domain.Anomaly
	key := cache.AnomaliesKey("")
	err = c.store.Mutate(ctx, key, func(ctx context.Context) error {
		a, err := c.gw.UpdateAnomalyStatus(ctx, id, an.Status, to)
		if err != nil {
			return err
		}
		updated = a
		return nil
	}, c.dependents(key, cache.Anomalies)...)

	entry := audit.Entry{EventType: audit.EventAnomalyStatus, TargetID: id, From: string(an.Status), To: string(to)}
	if err != nil {
		entry.Outcome, entry.Reason = audit.OutcomeFailed, err.Error()
		c.record(entry)
		return domain.Anomaly{}, err
	}
	entry.Outcome = audit.OutcomeOK
	c.record(entry)
	return updated, nil
}

// ObserveProgress handles a backend report that a remediation changed state.
// The report is authoritative, so affected keys are always invalidated; a
// report that breaks the transition table is logged as an integrity warning
// and returned as an error.
func (c *Controller) ObserveProgress(ctx context.Context, ev domain.ProgressEvent) error {
	if ev.RemediationID == "" {
		return errors.New("progress event without remediationId")
	}
	if _, err := domain.ParseRemediationStatus(string(ev.To)); err != nil {
		integrityWarnings.WithLabelValues("invalid_status").Inc()
		c.log.Warn("progress event with invalid status", "remediation", ev.RemediationID, "to", ev.To)
		return err
	}

	from := ev.From
	if from == "" {
		if cur, ok := c.cachedRemediation(ev.RemediationID); ok {
			from = cur.Status
		}
	}

	c.store.Invalidate(cache.RemediationsKey(ev.AnomalyID))
	c.store.InvalidateCollection(cache.Remediations)
	if ev.To.Terminal() {
		// the backend may resolve the anomaly along with the remediation
		c.store.InvalidateCollection(cache.Anomalies)
	}

	if from != "" && from != ev.To && !domain.CanTransition(from, ev.To) {
		integrityWarnings.WithLabelValues("illegal_transition").Inc()
		c.log.Warn("backend reported an illegal remediation transition",
			"remediation", ev.RemediationID, "from", from, "to", ev.To)
		return &domain.IllegalTransitionError{Kind: "remediation", ID: ev.RemediationID, From: string(from), To: string(ev.To)}
	}

	progressEvents.WithLabelValues(string(ev.To)).Inc()
	c.log.Info("remediation progress", "remediation", ev.RemediationID, "from", from, "to", ev.To)
	return nil
}

func (c *Controller) anomaly(ctx context.Context, id string) (domain.Anomaly, error) {
	list, err := session.Load[[]domain.Anomaly](ctx, c.store, cache.AnomaliesKey(""))
	if err != nil {
		return domain.Anomaly{}, fmt.Errorf("load anomalies: %w", err)
	}
	for _, a := range list {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Anomaly{}, fmt.Errorf("%w: anomaly %s", ErrNotFound, id)
}

func (c *Controller) remediation(ctx context.Context, id string) (domain.Remediation, error) {
	list, err := session.Load[[]domain.Remediation](ctx, c.store, cache.RemediationsKey(""))
	if err != nil {
		return domain.Remediation{}, fmt.Errorf("load remediations: %w", err)
	}
	for _, r := range list {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Remediation{}, fmt.Errorf("%w: remediation %s", ErrNotFound, id)
}

// cachedRemediation looks id up in any cached remediation list without
// touching the network.
func (c *Controller) cachedRemediation(id string) (domain.Remediation, bool) {
	for _, k := range c.store.Keys() {
		if k.Collection != cache.Remediations {
			continue
		}
		list, ok := cache.Value[[]domain.Remediation](c.store.Peek(k))
		if !ok {
			continue
		}
		for _, r := range list {
			if r.ID == id {
				return r, true
			}
		}
	}
	return domain.Remediation{}, false
}

// dependents lists the unfiltered key of every collection plus any cached
// filtered keys, excluding primary.
func (c *Controller) dependents(primary cache.Key, collections ...string) []cache.Key {
	seen := map[cache.Key]bool{primary: true}
	var keys []cache.Key
	add := func(k cache.Key) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, coll := range collections {
		add(cache.Key{Collection: coll})
	}
	for _, k := range c.store.Keys() {
		for _, coll := range collections {
			if k.Collection == coll {
				add(k)
			}
		}
	}
	return keys
}

func (c *Controller) record(e audit.Entry) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(e); err != nil {
		c.log.Error("audit record failed", "event", e.EventType, "error", err)
	}
}
