// Package orchestrator drives one user through phone verification, billing
// registration and subscription activation. The derived step always comes
// from the last reconciled snapshot; local state only carries what the
// backend cannot know yet (a pending challenge, a redirect target, errors).
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"activation-orchestrator/internal/activation/gateway"
	"activation-orchestrator/internal/activation/guard"
	"activation-orchestrator/internal/activation/journal"
	"activation-orchestrator/internal/activation/reconciler"
	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/metrics"
	"activation-orchestrator/internal/common/observability"
	"activation-orchestrator/internal/common/validation"
	"activation-orchestrator/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrWrongStep      = errors.New("action not allowed at the current step")
	ErrNotReady       = errors.New("subscription state has not been loaded")
	ErrNoChallenge    = errors.New("no verification code has been requested")
	ErrBillingBlocked = errors.New("billing registration is unavailable")
	ErrInFlight       = guard.ErrInFlight
	ErrClosed         = guard.ErrClosed
)

// guard channels; send and verify share one so only the newest phone
// operation may apply its response
const (
	channelPhone        = "phone"
	channelBilling      = "billing"
	channelSubscription = "subscription"
)

// Action outcomes reported to metrics.
const (
	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
	outcomeRejected  = "rejected"
)

type Options struct {
	SessionID     string
	Order         models.OrderDescriptor
	ActionTimeout time.Duration
	Reconcile     reconciler.Options
}

type Deps struct {
	Journal       journal.Recorder
	Observability *observability.Observability
	Logger        logger.Logger
}

type Orchestrator struct {
	gw         gateway.Gateway
	guard      *guard.Guard
	reconciler *reconciler.Reconciler
	errs       *apperrors.ErrorHandler
	journal    journal.Recorder
	obs        *observability.Observability
	logger     logger.Logger
	opts       Options

	mu             sync.Mutex
	ready          bool
	challenge      *models.VerificationChallenge
	hint           models.ActivationStep
	navigation     *models.Navigation
	stepErr        *apperrors.Presentation
	loginRequired  bool
	billingBlocked bool
	lastStep       models.ActivationStep
	pending        []journal.Event
}

func New(gw gateway.Gateway, opts Options, deps Deps) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{
		"component": "orchestrator",
		"sessionId": opts.SessionID,
	})
	rec := deps.Journal
	if rec == nil {
		rec = journal.NopRecorder{}
	}

	g := guard.New()
	return &Orchestrator{
		gw:         gw,
		guard:      g,
		reconciler: reconciler.New(gw, g, opts.Reconcile, log),
		errs:       apperrors.NewErrorHandler(log),
		journal:    rec,
		obs:        deps.Observability,
		logger:     log,
		opts:       opts,
	}
}

// ==========================
// Lifecycle
// ==========================

// Mount loads the authoritative snapshot. Fetch failures are absorbed into
// the view; only ErrClosed and ErrInFlight are returned.
func (o *Orchestrator) Mount(ctx context.Context) (View, error) {
	return o.reconcileAction(ctx, ActionMount)
}

// Resync reloads the snapshot on demand.
func (o *Orchestrator) Resync(ctx context.Context) (View, error) {
	return o.reconcileAction(ctx, ActionResync)
}

func (o *Orchestrator) reconcileAction(ctx context.Context, action string) (View, error) {
	defer o.flush(ctx)
	ctx, done := o.instrument(ctx, action)

	release, err := o.begin("reconcile", nil)
	if err != nil {
		done(outcomeRejected)
		return o.View(), err
	}
	defer release()

	actx, cancel := o.actionContext(ctx)
	defer cancel()

	err = o.refresh(actx, action)
	switch {
	case errors.Is(err, ErrClosed):
		done(outcomeDiscarded)
		return View{}, ErrClosed
	case err != nil:
		done(outcomeFailed)
	default:
		done(outcomeOK)
	}
	return o.View(), nil
}

// Close discards every response that arrives afterwards.
func (o *Orchestrator) Close() {
	o.guard.Close()
}

// DismissError clears the current step error.
func (o *Orchestrator) DismissError() View {
	o.mu.Lock()
	o.stepErr = nil
	o.mu.Unlock()
	return o.View()
}

// View returns a value copy of the current state.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

// Busy reports whether any action is in flight.
func (o *Orchestrator) Busy() bool {
	return o.guard.Busy()
}

// Stale reports whether the cached snapshot is missing or older than the
// configured StaleAfter.
func (o *Orchestrator) Stale() bool {
	return o.reconciler.Stale()
}

// Step returns the step currently shown and whether it is provisional.
func (o *Orchestrator) Step() (models.ActivationStep, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	step, _, provisional := o.stepLocked()
	return step, provisional
}

// ==========================
// Step actions
// ==========================

// SendCode requests a verification code. Keys include the number, so an
// edited number may be sent while a previous send is still outstanding; the
// newest phone request wins.
func (o *Orchestrator) SendCode(ctx context.Context, phoneNumber string) (View, error) {
	defer o.flush(ctx)
	ctx, done := o.instrument(ctx, ActionSendCode)

	phone := validation.NormalizePhone(phoneNumber)
	release, err := o.begin("send:"+phone, o.requireStep(models.StepPhone))
	if err != nil {
		done(outcomeRejected)
		return o.View(), err
	}
	defer release()

	ticket := o.guard.Next(channelPhone)
	actx, cancel := o.actionContext(ctx)
	defer cancel()

	challenge, callErr := o.gw.SendPhoneAuth(actx, phone)

	o.mu.Lock()
	if !o.guard.Current(ticket) {
		o.mu.Unlock()
		return o.discarded(done)
	}
	resync := false
	if callErr != nil {
		resync = o.absorbLocked(ActionSendCode, callErr)
	} else {
		o.challenge = challenge
	}
	o.mu.Unlock()

	return o.finish(actx, ActionSendCode, callErr, resync, done)
}

// VerifyCode submits code for the pending challenge. A wrong code keeps the
// challenge so the user can try again; any other failure discards it.
func (o *Orchestrator) VerifyCode(ctx context.Context, code string) (View, error) {
	defer o.flush(ctx)
	ctx, done := o.instrument(ctx, ActionVerifyCode)

	release, err := o.begin("verify", func(step models.ActivationStep, _ *models.SubscriptionSnapshot) error {
		if step != models.StepPhone {
			return ErrWrongStep
		}
		if o.challenge == nil {
			return ErrNoChallenge
		}
		return nil
	})
	if err != nil {
		done(outcomeRejected)
		return o.View(), err
	}
	defer release()

	o.mu.Lock()
	if o.challenge == nil {
		o.mu.Unlock()
		done(outcomeRejected)
		return o.View(), ErrNoChallenge
	}
	challenge := *o.challenge
	o.mu.Unlock()

	ticket := o.guard.Next(channelPhone)
	actx, cancel := o.actionContext(ctx)
	defer cancel()

	_, callErr := o.gw.VerifyPhoneAuth(actx, challenge.PhoneNumber, challenge.RequestID, code)

	o.mu.Lock()
	if !o.guard.Current(ticket) {
		o.mu.Unlock()
		return o.discarded(done)
	}
	if callErr != nil {
		switch apperrors.CodeOf(callErr) {
		case apperrors.ErrCodeValidationRejected, apperrors.ErrCodeNetwork:
		default:
			o.challenge = nil
		}
		resync := o.absorbLocked(ActionVerifyCode, callErr)
		o.mu.Unlock()
		return o.finish(actx, ActionVerifyCode, callErr, resync, done)
	}
	o.challenge = nil
	o.mu.Unlock()

	if err := o.refresh(actx, ActionVerifyCode); err != nil {
		if errors.Is(err, ErrClosed) {
			done(outcomeDiscarded)
			return View{}, ErrClosed
		}
		o.mu.Lock()
		if !o.loginRequired {
			o.hint = models.StepBilling
		}
		o.mu.Unlock()
	}
	done(outcomeOK)
	return o.View(), nil
}

// RegisterBilling issues a billing key and asks the card registrar where to
// send the browser. The returned view carries the Navigation; the step does
// not change locally since the result arrives through a landing handler.
func (o *Orchestrator) RegisterBilling(ctx context.Context) (View, error) {
	defer o.flush(ctx)
	ctx, done := o.instrument(ctx, ActionRegisterBilling)

	release, err := o.begin("billing", func(step models.ActivationStep, _ *models.SubscriptionSnapshot) error {
		if step != models.StepBilling {
			return ErrWrongStep
		}
		if o.billingBlocked {
			return ErrBillingBlocked
		}
		return nil
	})
	if err != nil {
		done(outcomeRejected)
		return o.View(), err
	}
	defer release()

	ticket := o.guard.Next(channelBilling)
	actx, cancel := o.actionContext(ctx)
	defer cancel()

	var nav *models.Navigation
	issuance, callErr := o.gw.IssueBillingKey(actx, o.opts.Order)
	if callErr == nil {
		o.syncQuietly(actx)
		nav, callErr = o.gw.RegisterCard(actx, *issuance)
	}

	o.mu.Lock()
	if !o.guard.Current(ticket) {
		o.mu.Unlock()
		return o.discarded(done)
	}
	resync := false
	if callErr != nil {
		resync = o.absorbLocked(ActionRegisterBilling, callErr)
	} else {
		o.navigation = nav
	}
	o.mu.Unlock()

	return o.finish(actx, ActionRegisterBilling, callErr, resync, done)
}

// StartSubscription activates recurring billing, then reconciles.
func (o *Orchestrator) StartSubscription(ctx context.Context) (View, error) {
	return o.subscriptionAction(ctx, ActionStartSubscription, "subscribe",
		o.requireStep(models.StepSubscribe), o.gw.StartSubscription)
}

// CancelAutoPay stops recurring billing of an ACTIVE subscription.
func (o *Orchestrator) CancelAutoPay(ctx context.Context) (View, error) {
	return o.subscriptionAction(ctx, ActionCancelAutoPay, "auto-pay",
		o.requireStatus(models.StatusActive), o.gw.CancelAutoPay)
}

// ReactivateAutoPay resumes recurring billing of a CANCELED subscription.
func (o *Orchestrator) ReactivateAutoPay(ctx context.Context) (View, error) {
	return o.subscriptionAction(ctx, ActionReactivateAutoPay, "auto-pay",
		o.requireStatus(models.StatusCanceled), o.gw.ReactivateAutoPay)
}

func (o *Orchestrator) subscriptionAction(
	ctx context.Context,
	action, key string,
	check func(models.ActivationStep, *models.SubscriptionSnapshot) error,
	call func(context.Context) (models.SubscriptionRecord, error),
) (View, error) {
	defer o.flush(ctx)
	ctx, done := o.instrument(ctx, action)

	release, err := o.begin(key, check)
	if err != nil {
		done(outcomeRejected)
		return o.View(), err
	}
	defer release()

	ticket := o.guard.Next(channelSubscription)
	actx, cancel := o.actionContext(ctx)
	defer cancel()

	_, callErr := call(actx)

	o.mu.Lock()
	if !o.guard.Current(ticket) {
		o.mu.Unlock()
		return o.discarded(done)
	}
	resync := false
	if callErr != nil {
		resync = o.absorbLocked(action, callErr)
	}
	o.mu.Unlock()

	if callErr == nil {
		resync = true
	}
	return o.finish(actx, action, callErr, resync, done)
}

// ==========================
// Internals
// ==========================

func (o *Orchestrator) requireStep(want models.ActivationStep) func(models.ActivationStep, *models.SubscriptionSnapshot) error {
	return func(step models.ActivationStep, _ *models.SubscriptionSnapshot) error {
		if step != want {
			return ErrWrongStep
		}
		return nil
	}
}

func (o *Orchestrator) requireStatus(want models.SubscriptionStatus) func(models.ActivationStep, *models.SubscriptionSnapshot) error {
	return func(_ models.ActivationStep, snap *models.SubscriptionSnapshot) error {
		if snap == nil || snap.Status != want {
			return ErrWrongStep
		}
		return nil
	}
}

// begin checks liveness, readiness and step legality, then claims key.
// check runs under o.mu; a nil check skips the readiness test.
func (o *Orchestrator) begin(key string, check func(models.ActivationStep, *models.SubscriptionSnapshot) error) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.guard.Alive() {
		return nil, ErrClosed
	}
	if check != nil {
		if !o.ready {
			return nil, ErrNotReady
		}
		step, snap, _ := o.stepLocked()
		if err := check(step, snap); err != nil {
			return nil, err
		}
	}
	release, err := o.guard.Begin(key)
	if err != nil {
		return nil, err
	}
	o.stepErr = nil
	return release, nil
}

func (o *Orchestrator) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.ActionTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.ActionTimeout)
	}
	return context.WithCancel(ctx)
}

// finish re-reconciles when asked and reports the action outcome.
func (o *Orchestrator) finish(ctx context.Context, action string, callErr error, resync bool, done func(string)) (View, error) {
	if resync {
		if err := o.refresh(ctx, action); errors.Is(err, ErrClosed) {
			done(outcomeDiscarded)
			return View{}, ErrClosed
		}
	}
	if callErr != nil {
		done(outcomeFailed)
	} else {
		done(outcomeOK)
	}
	return o.View(), nil
}

func (o *Orchestrator) discarded(done func(string)) (View, error) {
	done(outcomeDiscarded)
	if !o.guard.Alive() {
		return View{}, ErrClosed
	}
	return o.View(), nil
}

// refresh reconciles and applies the result. A superseded reconcile is not
// an error: the newer one applies its own result.
func (o *Orchestrator) refresh(ctx context.Context, action string) error {
	_, err := o.reconciler.Reconcile(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case !o.guard.Alive(), errors.Is(err, guard.ErrClosed):
		return ErrClosed
	case errors.Is(err, reconciler.ErrSuperseded):
		return nil
	case err != nil:
		o.absorbLocked(action, err)
		return err
	}
	o.appliedLocked(action)
	return nil
}

// syncQuietly reconciles without surfacing failures; used between billing
// issuance and the redirect where a failed read must not block navigation.
func (o *Orchestrator) syncQuietly(ctx context.Context) {
	_, err := o.reconciler.Reconcile(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if !errors.Is(err, reconciler.ErrSuperseded) && !errors.Is(err, guard.ErrClosed) {
			o.logger.Warn("Reconcile after billing issuance failed", map[string]interface{}{
				"errorCode": string(apperrors.CodeOf(err)),
			})
		}
		return
	}
	if o.guard.Alive() {
		o.appliedLocked(ActionRegisterBilling)
	}
}

// appliedLocked runs after a successful reconcile.
func (o *Orchestrator) appliedLocked(action string) {
	o.ready = true
	o.hint = ""
	o.loginRequired = false

	snap, _ := o.reconciler.Snapshot()
	step := DeriveStep(snap)
	if step != models.StepPhone {
		o.challenge = nil
	}
	if step == o.lastStep {
		return
	}

	from := o.lastStep
	o.lastStep = step
	if from == "" {
		o.logger.Info("Activation state loaded", map[string]interface{}{"step": step.String()})
		return
	}

	metrics.StepTransitions.WithLabelValues(from.String(), step.String()).Inc()
	o.logger.Info("Activation step changed", map[string]interface{}{
		"action": action,
		"from":   from.String(),
		"to":     step.String(),
	})
	o.pending = append(o.pending, journal.Event{
		SessionID:  o.opts.SessionID,
		Kind:       journal.KindStepTransition,
		Action:     action,
		FromStep:   from.String(),
		ToStep:     step.String(),
		OccurredAt: time.Now().UTC(),
	})
}

// absorbLocked turns err into the dismissible step error and applies the
// recovery policy of its code. It reports whether a re-reconcile is due.
func (o *Orchestrator) absorbLocked(action string, err error) bool {
	pres := o.errs.Handle(action, err)
	o.stepErr = pres
	metrics.ActionErrors.WithLabelValues(action, string(pres.Code)).Inc()
	o.pending = append(o.pending, journal.Event{
		SessionID:  o.opts.SessionID,
		Kind:       journal.KindActionFailed,
		Action:     action,
		ErrorCode:  string(pres.Code),
		Details:    map[string]interface{}{"message": pres.Message},
		OccurredAt: time.Now().UTC(),
	})

	switch pres.Recovery {
	case apperrors.RecoverLogin:
		o.resetForLoginLocked()
	case apperrors.RecoverBlocked:
		o.billingBlocked = true
	case apperrors.RecoverResync:
		return action != ActionMount && action != ActionResync
	}
	return false
}

// resetForLoginLocked discards all onboarding state; nothing survives a
// lost credential.
func (o *Orchestrator) resetForLoginLocked() {
	o.loginRequired = true
	o.ready = false
	o.challenge = nil
	o.hint = ""
	o.navigation = nil
	o.lastStep = ""
	o.reconciler.Invalidate()
}

func (o *Orchestrator) stepLocked() (models.ActivationStep, *models.SubscriptionSnapshot, bool) {
	snap, ok := o.reconciler.Snapshot()
	var sp *models.SubscriptionSnapshot
	if ok {
		sp = &snap
	}
	if o.hint != "" {
		return o.hint, sp, true
	}
	if !ok {
		return "", nil, false
	}
	return DeriveStep(snap), sp, false
}

func (o *Orchestrator) viewLocked() View {
	step, snap, provisional := o.stepLocked()
	v := View{
		Step:           step,
		Provisional:    provisional,
		Ready:          o.ready,
		Snapshot:       snap,
		Error:          o.stepErr,
		LoginRequired:  o.loginRequired,
		BillingBlocked: o.billingBlocked,
		Busy:           o.guard.Busy(),
		Stale:          snap != nil && o.reconciler.Stale(),
	}
	if o.challenge != nil {
		v.Challenge = &ChallengeView{
			PhoneNumber:      o.challenge.PhoneNumber,
			RequestID:        o.challenge.RequestID,
			ExpiresInSeconds: o.challenge.ExpiresInSeconds,
		}
	}
	if o.navigation != nil {
		nav := *o.navigation
		v.Navigation = &nav
	}
	if o.stepErr != nil {
		pres := *o.stepErr
		v.Error = &pres
	}
	if o.ready {
		v.Actions = allowedActions(step, snap, o.challenge != nil, o.billingBlocked)
	} else {
		v.Actions = []string{}
	}
	return v
}

func (o *Orchestrator) instrument(ctx context.Context, action string) (context.Context, func(string)) {
	start := time.Now()
	ctx, span := o.obs.StartSpan(ctx, "activation."+action,
		attribute.String("session.id", o.opts.SessionID))

	return ctx, func(outcome string) {
		span.SetAttributes(attribute.String("activation.outcome", outcome))
		span.End()
		metrics.ActionsTotal.WithLabelValues(action, outcome).Inc()
		metrics.ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
		o.obs.RecordAction(ctx, action, outcome, time.Since(start))
	}
}

// flush writes queued journal events outside the state lock.
func (o *Orchestrator) flush(ctx context.Context) {
	o.mu.Lock()
	events := o.pending
	o.pending = nil
	o.mu.Unlock()
	if len(events) == 0 {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for _, e := range events {
		if err := o.journal.Record(wctx, e); err != nil {
			o.logger.Warn("Activation event not recorded", map[string]interface{}{
				"kind":  string(e.Kind),
				"error": err.Error(),
			})
		}
	}
}
