package calendar

import (
	"context"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/core/student"
)

// ResultKind tags the outcome of a reconciliation.
type ResultKind string

const (
	ResultCreated       ResultKind = "created"
	ResultAlreadyExists ResultKind = "already_exists"
	ResultUpdated       ResultKind = "updated"
	ResultSkipped       ResultKind = "skipped"
)

type Result struct {
	Kind         ResultKind
	Action       Action
	Consultation consultation.Consultation // zero when nothing matched
	Skip         string
}

// Mutated reports whether the reconciliation wrote to the store.
func (res Result) Mutated() bool {
	return res.Kind == ResultCreated || res.Kind == ResultUpdated
}

// Reconciler turns ExternalEvents into idempotent consultation and student mutations.
// Webhooks and poll syncs go through the same Handle path.
type Reconciler struct {
	provider      string
	consultations consultation.Repository
	students      student.Repository
	auditor       Auditor
	logger        core.Logger
	validate      *validator.Validate
	translator    ut.Translator
}

func NewReconciler(
	provider string,
	consultations consultation.Repository,
	students student.Repository,
	auditor Auditor,
	logger core.Logger,
) *Reconciler {
	translator := core.NewTranslator()
	return &Reconciler{
		provider:      provider,
		consultations: consultations,
		students:      students,
		auditor:       auditor,
		logger:        logger,
		validate:      core.NewValidator(translator),
		translator:    translator,
	}
}

func (r *Reconciler) HandleCreated(ctx context.Context, ev ExternalEvent) (Result, error) {
	return r.Handle(ctx, KindCreated, ev)
}

func (r *Reconciler) HandleCanceled(ctx context.Context, ev ExternalEvent) (Result, error) {
	return r.Handle(ctx, KindCanceled, ev)
}

func (r *Reconciler) HandleRescheduled(ctx context.Context, ev ExternalEvent) (Result, error) {
	return r.Handle(ctx, KindRescheduled, ev)
}

func (r *Reconciler) HandleNoShow(ctx context.Context, ev ExternalEvent) (Result, error) {
	return r.Handle(ctx, KindNoShow, ev)
}

// Handle validates ev, plans the effect of kind against the stored state and applies it.
// Skips are not errors. Store failures are returned as *PersistenceError.
func (r *Reconciler) Handle(ctx context.Context, kind EventKind, ev ExternalEvent) (Result, error) {
	ev.Kind = kind
	if err := ev.Validate(r.validate, r.translator, kind); err != nil {
		r.record(ctx, ev, AuditEvent{Action: actionOf(kind), Outcome: OutcomeFailure, Error: err.Error()})
		return Result{}, errors.Wrap(err, "validating event")
	}

	snap, err := r.snapshot(ctx, ev)
	if err != nil {
		r.fail(ctx, ev, actionOf(kind), err)
		return Result{}, err
	}

	eff := Plan(kind, ev, snap)
	switch eff.Kind {
	case EffectCreate:
		return r.create(ctx, ev, eff)
	case EffectUpdate:
		return r.update(ctx, ev, eff)
	default:
		return r.skip(ctx, ev, kind, eff), nil
	}
}

func (r *Reconciler) snapshot(ctx context.Context, ev ExternalEvent) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Current, err = r.find(ctx, ev.ID); err != nil {
		return snap, err
	}
	if ev.PreviousID != "" && ev.PreviousID != ev.ID {
		if snap.Previous, err = r.find(ctx, ev.PreviousID); err != nil {
			return snap, err
		}
	}
	if ev.Rescheduled && ev.NextID != "" && ev.NextID != ev.ID {
		if snap.Next, err = r.find(ctx, ev.NextID); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func (r *Reconciler) find(ctx context.Context, externalID string) (*consultation.Consultation, error) {
	c, err := r.consultations.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, consultation.ErrNotFound) {
			return nil, nil
		}
		return nil, persistenceErr("finding consultation by external id", err)
	}
	return &c, nil
}

func (r *Reconciler) create(ctx context.Context, ev ExternalEvent, eff Effect) (Result, error) {
	stu, err := r.resolveStudent(ctx, ev)
	if err != nil {
		r.fail(ctx, ev, eff.Action, err)
		return Result{}, err
	}

	nc := eff.Create
	nc.StudentID = stu.ID
	c, err := r.consultations.Create(ctx, nc)
	if err != nil {
		if errors.Is(err, consultation.ErrDuplicateExternalID) {
			// lost the race against a concurrent delivery of the same event
			existing, fErr := r.find(ctx, ev.ID)
			if fErr != nil {
				r.fail(ctx, ev, eff.Action, fErr)
				return Result{}, fErr
			}
			return r.skip(ctx, ev, KindCreated, skip(SkipAlreadyProcessed, existing)), nil
		}
		err = persistenceErr("creating consultation", err)
		r.fail(ctx, ev, eff.Action, err)
		return Result{}, err
	}

	r.logger.Info("calendar: consultation created", r.extras(ev, c.ID, ""))
	r.record(ctx, ev, AuditEvent{
		Action:         eff.Action,
		Outcome:        OutcomeSuccess,
		StudentID:      stu.ID,
		ConsultationID: c.ID,
		ScheduledAt:    timePtr(c.ScheduledAt),
	})
	return Result{Kind: ResultCreated, Action: eff.Action, Consultation: c}, nil
}

func (r *Reconciler) update(ctx context.Context, ev ExternalEvent, eff Effect) (Result, error) {
	c, err := r.consultations.Update(ctx, eff.ConsultationID, eff.Patch)
	if err != nil {
		switch {
		case errors.Is(err, consultation.ErrInvalidTransition):
			// staff changed the status between our read and write
			return r.skip(ctx, ev, ev.Kind, skip(SkipSticky, eff.Existing)), nil
		case errors.Is(err, consultation.ErrNotFound):
			return r.skip(ctx, ev, ev.Kind, skip(noMatchReason(ev.Kind), nil)), nil
		}
		err = persistenceErr("updating consultation", err)
		r.fail(ctx, ev, eff.Action, err)
		return Result{}, err
	}

	r.logger.Info("calendar: consultation updated", r.extras(ev, c.ID, string(eff.Action)))
	r.record(ctx, ev, AuditEvent{
		Action:         eff.Action,
		Outcome:        OutcomeSuccess,
		StudentID:      c.StudentID,
		ConsultationID: c.ID,
		ScheduledAt:    timePtr(c.ScheduledAt),
	})
	return Result{Kind: ResultUpdated, Action: eff.Action, Consultation: c}, nil
}

func (r *Reconciler) skip(ctx context.Context, ev ExternalEvent, kind EventKind, eff Effect) Result {
	res := Result{Kind: ResultSkipped, Action: actionOf(kind), Skip: eff.Skip}
	if kind == KindCreated && eff.Skip == SkipAlreadyProcessed {
		res.Kind = ResultAlreadyExists
	}
	audit := AuditEvent{Action: res.Action, Outcome: OutcomeSkipped, Reason: eff.Skip}
	var cID string
	if eff.Existing != nil {
		res.Consultation = *eff.Existing
		cID = eff.Existing.ID
		audit.ConsultationID = cID
		audit.StudentID = eff.Existing.StudentID
		audit.ScheduledAt = timePtr(eff.Existing.ScheduledAt)
	}

	r.logger.Warn("calendar: skipped, "+eff.Skip, r.extras(ev, cID, ""))
	r.record(ctx, ev, audit)
	return res
}

// resolveStudent finds the invitee's student by email, creating a minimal one if absent.
// Existing students are never modified.
func (r *Reconciler) resolveStudent(ctx context.Context, ev ExternalEvent) (student.Student, error) {
	email := core.CleanString(ev.InviteeEmail, true /* lower */)
	stu, err := r.students.FindByEmail(ctx, email)
	if err == nil {
		return stu, nil
	}
	if !errors.Is(err, student.ErrNotFound) {
		return student.Student{}, persistenceErr("finding student by email", err)
	}

	ns := student.NewStudentFromInvitee(email, ev.InviteeName, ev.FirstName, ev.LastName)
	stu, err = r.students.Create(ctx, ns)
	if err != nil {
		if errors.Is(err, student.ErrEmailExists) {
			if stu, err = r.students.FindByEmail(ctx, email); err == nil {
				return stu, nil
			}
		}
		return student.Student{}, persistenceErr("creating student", err)
	}
	r.logger.Info("calendar: student created", map[string]interface{}{"student_id": stu.ID, "email": stu.Email, "name": stu.FullName()})
	return stu, nil
}

func (r *Reconciler) fail(ctx context.Context, ev ExternalEvent, action Action, err error) {
	r.logger.Error("calendar: reconciliation failed", err, r.extras(ev, "", string(action)))
	r.record(ctx, ev, AuditEvent{Action: action, Outcome: OutcomeFailure, Error: err.Error()})
}

// record never fails the reconciliation.
func (r *Reconciler) record(ctx context.Context, ev ExternalEvent, audit AuditEvent) {
	if r.auditor == nil {
		return
	}
	audit.Provider = r.provider
	audit.Origin = ev.Origin
	audit.ExternalEventID = ev.ID
	audit.OccurredAt = NowFunc().UTC()
	if err := r.auditor.Record(ctx, audit); err != nil {
		r.logger.Error("calendar: recording audit event", errors.Wrap(err, "recording audit event"), r.extras(ev, audit.ConsultationID, string(audit.Action)))
	}
}

func (r *Reconciler) extras(ev ExternalEvent, consultationID, action string) map[string]interface{} {
	extras := map[string]interface{}{
		"provider":          r.provider,
		"origin":            ev.Origin,
		"kind":              ev.Kind,
		"external_event_id": ev.ID,
	}
	if ev.PreviousID != "" {
		extras["previous_event_id"] = ev.PreviousID
	}
	if ev.NextID != "" {
		extras["next_event_id"] = ev.NextID
	}
	if consultationID != "" {
		extras["consultation_id"] = consultationID
	}
	if action != "" {
		extras["action"] = action
	}
	return extras
}

func actionOf(kind EventKind) Action {
	switch kind {
	case KindCanceled:
		return ActionCancel
	case KindRescheduled:
		return ActionReschedule
	case KindNoShow:
		return ActionNoShow
	default:
		return ActionCreate
	}
}

func noMatchReason(kind EventKind) string {
	switch kind {
	case KindRescheduled:
		return SkipNoMatchRes
	case KindNoShow:
		return SkipNoMatchNoShow
	default:
		return SkipNoMatchCancel
	}
}
