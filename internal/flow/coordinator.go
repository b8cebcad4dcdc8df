package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldgate/fieldgate/internal/audit"
	"github.com/fieldgate/fieldgate/internal/credentials"
	"github.com/fieldgate/fieldgate/internal/portal"
	"github.com/fieldgate/fieldgate/internal/registry"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/pkg/models"
)

// Notifier receives requests that were resolved without a user action,
// so the dispatcher can edit the preview message. Called outside the
// request's lock.
type Notifier interface {
	NotifyExpired(ctx context.Context, req *models.ChangeRequest)
}

// Outcome reports the result of a confirm or reject to the dispatcher.
type Outcome struct {
	Request *models.ChangeRequest

	// AlreadyResolved is true when the event arrived after the request
	// reached a terminal state; nothing was committed, released or
	// audited for it.
	AlreadyResolved bool
}

// Coordinator owns every state mutation of a change request. All
// transitions for one request id are serialized through a per-id lock;
// the session registry's atomic take keeps resource release
// exactly-once even when confirm, reject and timeout race.
type Coordinator struct {
	requests    store.RequestStore
	audit       *audit.Recorder
	registry    *registry.Registry
	driver      portal.Driver
	credentials credentials.Store
	supervisor  *Supervisor
	notifier    Notifier
	logger      *slog.Logger
	locks       *keyedMutex
}

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	Requests    store.RequestStore
	Audit       *audit.Recorder
	Registry    *registry.Registry
	Driver      portal.Driver
	Credentials credentials.Store
	Logger      *slog.Logger
}

// NewCoordinator creates the coordinator and its timeout supervisor.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		requests:    cfg.Requests,
		audit:       cfg.Audit,
		registry:    cfg.Registry,
		driver:      cfg.Driver,
		credentials: cfg.Credentials,
		logger:      logger.With("component", "flow"),
		locks:       newKeyedMutex(),
	}
	return c
}

// Begin creates a new request in the pending state.
func (c *Coordinator) Begin(ctx context.Context, requesterID, channelID, value int64) (*models.ChangeRequest, error) {
	req := &models.ChangeRequest{
		RequesterID:    requesterID,
		ChannelID:      channelID,
		RequestedValue: value,
		State:          models.StatePending,
	}
	if err := c.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create change request: %w", err)
	}
	c.logger.Info("change request created",
		"request_id", req.ID,
		"requester_id", requesterID,
		"requested_value", value)
	return req, nil
}

// Prepare stages the change on the portal. On failure the request is
// driven to FAILED with the cause recorded; no session is pinned and no
// audit entry is written because the confirmation stage was never
// reached.
func (c *Coordinator) Prepare(ctx context.Context, requestID string) (*portal.Prepared, error) {
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	cookies, err := c.credentials.Cookies(ctx, req.RequesterID)
	if err != nil {
		if errors.Is(err, credentials.ErrNoSession) {
			err = portal.ErrNoActiveSession
		}
		return nil, c.failPreparation(ctx, requestID, err)
	}

	prepared, err := c.driver.PrepareChange(ctx, cookies, req.RequestedValue)
	if err != nil {
		return nil, c.failPreparation(ctx, requestID, err)
	}
	return prepared, nil
}

// AbortPreparation marks a still-pending request FAILED when its
// preview could not be delivered. The caller owns the staged session
// and must dispose it; nothing was pinned or audited yet.
func (c *Coordinator) AbortPreparation(ctx context.Context, requestID string, cause error) error {
	return c.failPreparation(ctx, requestID, cause)
}

// failPreparation drives PENDING → FAILED and returns the original
// cause for the dispatcher to surface.
func (c *Coordinator) failPreparation(ctx context.Context, requestID string, cause error) error {
	c.locks.lock(requestID)
	defer c.locks.unlock(requestID)

	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	next, err := Next(req.State, EventPrepareErr)
	if err != nil {
		return err
	}
	req.State = next
	req.FailureReason = cause.Error()
	if err := c.requests.Update(ctx, req); err != nil {
		return err
	}

	c.logger.Warn("preparation failed",
		"request_id", requestID,
		"error", cause)
	return cause
}

// Activate moves a prepared request into the confirmation stage: the
// observed previous value and the preview message reference are
// recorded, the session is pinned and the reclamation deadline armed.
// On any failure the session is disposed and the request marked FAILED.
func (c *Coordinator) Activate(ctx context.Context, requestID string, prepared *portal.Prepared, previewRef int) error {
	c.locks.lock(requestID)
	defer c.locks.unlock(requestID)

	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		prepared.Session.Dispose()
		return err
	}

	next, err := Next(req.State, EventPrepareOK)
	if err != nil {
		prepared.Session.Dispose()
		return err
	}
	req.State = next
	req.PreviousValue = prepared.PreviousValue
	req.PreviewRef = previewRef

	if err := c.requests.Update(ctx, req); err != nil {
		prepared.Session.Dispose()
		return err
	}
	if err := c.registry.Pin(requestID, prepared.Session); err != nil {
		// Defensive: the transition above makes a duplicate impossible.
		prepared.Session.Dispose()
		return err
	}
	if c.supervisor != nil {
		c.supervisor.Arm(requestID)
	}

	c.logger.Info("awaiting confirmation",
		"request_id", requestID,
		"previous_value", prepared.PreviousValue,
		"preview_ref", previewRef)
	return nil
}

// Confirm applies the operator's approval. Exactly one commit attempt
// and one audit entry result, no matter how often it is called or how
// it races the timeout.
func (c *Coordinator) Confirm(ctx context.Context, requestID string) (*Outcome, error) {
	c.locks.lock(requestID)
	defer c.locks.unlock(requestID)

	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.State.Terminal() {
		return &Outcome{Request: req, AlreadyResolved: true}, nil
	}

	session, ok := c.registry.Take(requestID)
	if !ok {
		// Reclaimed by the timeout before the click arrived.
		if err := c.resolve(ctx, req, EventConfirmNoSession, nil, "session expired"); err != nil {
			return nil, err
		}
		return &Outcome{Request: req}, nil
	}
	defer session.Dispose()

	if err := session.Commit(ctx); err != nil {
		c.logger.Error("commit failed", "request_id", requestID, "error", err)
		if rerr := c.resolve(ctx, req, EventCommitErr, nil, err.Error()); rerr != nil {
			return nil, rerr
		}
		return &Outcome{Request: req}, nil
	}

	committed := req.RequestedValue
	req.CommittedValue = &committed
	if err := c.resolve(ctx, req, EventConfirm, &committed, ""); err != nil {
		return nil, err
	}
	return &Outcome{Request: req}, nil
}

// Reject applies the operator's cancellation and releases the session
// if it is still pinned.
func (c *Coordinator) Reject(ctx context.Context, requestID string) (*Outcome, error) {
	c.locks.lock(requestID)
	defer c.locks.unlock(requestID)

	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.State.Terminal() {
		return &Outcome{Request: req, AlreadyResolved: true}, nil
	}

	if session, ok := c.registry.Take(requestID); ok {
		session.Dispose()
	}
	if err := c.resolve(ctx, req, EventReject, nil, ""); err != nil {
		return nil, err
	}
	return &Outcome{Request: req}, nil
}

// Latest returns the requester's most recent request.
func (c *Coordinator) Latest(ctx context.Context, requesterID int64) (*models.ChangeRequest, error) {
	return c.requests.Latest(ctx, requesterID)
}

// Get returns one request by id.
func (c *Coordinator) Get(ctx context.Context, requestID string) (*models.ChangeRequest, error) {
	return c.requests.Get(ctx, requestID)
}

// StartSupervisor arms the timeout machinery. ttl is the confirmation
// deadline; notifier (optional) is told about timeout-resolved
// requests.
func (c *Coordinator) StartSupervisor(ttl time.Duration, notifier Notifier) {
	c.notifier = notifier
	c.supervisor = NewSupervisor(ttl, c.handleTimeout)
}

// Close cancels all outstanding timers.
func (c *Coordinator) Close() {
	if c.supervisor != nil {
		c.supervisor.Close()
	}
}

// handleTimeout is the supervisor's fire path. A request already
// resolved by the user is left untouched.
func (c *Coordinator) handleTimeout(requestID string) {
	ctx := context.Background()

	c.locks.lock(requestID)
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		c.locks.unlock(requestID)
		c.logger.Error("timeout fired for unknown request", "request_id", requestID, "error", err)
		return
	}
	if req.State != models.StateAwaitingConfirmation {
		c.locks.unlock(requestID)
		return
	}

	if session, ok := c.registry.Take(requestID); ok {
		session.Dispose()
	}
	err = c.resolve(ctx, req, EventTimeout, nil, "timed out waiting for confirmation")
	c.locks.unlock(requestID)
	if err != nil {
		c.logger.Error("timeout resolution failed", "request_id", requestID, "error", err)
		return
	}

	if c.notifier != nil {
		c.notifier.NotifyExpired(ctx, req)
	}
}

// resolve drives a confirmation-stage transition to its terminal state,
// persists it, cancels the timer and writes the single audit entry.
// Callers must hold the request's lock.
func (c *Coordinator) resolve(ctx context.Context, req *models.ChangeRequest, event Event, afterValue *int64, failureReason string) error {
	next, err := Next(req.State, event)
	if err != nil {
		return err
	}
	req.State = next
	if failureReason != "" {
		req.FailureReason = failureReason
	}

	if err := c.requests.Update(ctx, req); err != nil {
		return fmt.Errorf("failed to persist %s: %w", next, err)
	}
	if c.supervisor != nil {
		c.supervisor.Cancel(req.ID)
	}
	if err := c.audit.Record(ctx, req, afterValue); err != nil {
		// The transition stands; the audit failure is already logged.
		return nil
	}

	c.logger.Info("request resolved",
		"request_id", req.ID,
		"state", req.State,
		"event", event)
	return nil
}
