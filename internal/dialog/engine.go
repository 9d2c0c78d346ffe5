// Package dialog owns the per-turn slot-filling state machine: identify
// the intent, collect missing slots one turn at a time, then dispatch the
// completed request downstream.
package dialog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rayadhanush/infrapilot-kb/internal/fulfill"
	"github.com/rayadhanush/infrapilot-kb/internal/intent"
	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/log"
	"github.com/rayadhanush/infrapilot-kb/internal/provision"
	"github.com/rayadhanush/infrapilot-kb/internal/session"
)

const (
	msgNoMatch       = "Sorry, I couldn't understand your request. Can you clarify?"
	msgCreateOK      = "Thank you! Your request has been processed successfully. Please wait while we fetch the resources. You should get a notification when the resources are up"
	freeFormEndpoint = "/api/custom/"
	freeFormTimeout  = 3 * time.Minute
)

// Resolver identifies the intent behind free text.
type Resolver interface {
	Resolve(ctx context.Context, text string) (string, bool, error)
}

// Registry looks up the template for free text or an intent label.
type Registry interface {
	Lookup(ctx context.Context, textOrIntent string) (*knowledge.Template, error)
}

// Sessions is the persisted conversation state boundary.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (session.State, error)
	Put(ctx context.Context, sessionID string, st session.State) error
	Clear(ctx context.Context, sessionID, userID string) error
}

// KeyMapper records downstream deployment keys for later attribution.
type KeyMapper interface {
	Put(ctx context.Context, keyID, userID, sessionID string) error
}

// Provisioner is the downstream API surface the engine dispatches to.
type Provisioner interface {
	Authenticate(ctx context.Context) (string, error)
	Invoke(ctx context.Context, method, endpoint string, payload map[string]any, token string) (*provision.Result, error)
}

// Synthesizer produces a resource definition from free text for the
// one-shot fulfillment branch.
type Synthesizer interface {
	Synthesize(ctx context.Context, input string) (string, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Resolver    Resolver
	Registry    Registry
	Sessions    Sessions
	Keys        KeyMapper
	Client      Provisioner
	Synthesizer Synthesizer
	Validators  Validators
	Logger      log.Logger
}

// Engine runs one conversation turn at a time. Methods are safe for
// concurrent use across sessions; concurrent turns on the same session
// follow last-write-wins semantics of the session store.
type Engine struct {
	resolver   Resolver
	registry   Registry
	sessions   Sessions
	keys       KeyMapper
	client     Provisioner
	synth      Synthesizer
	validators Validators
	logger     log.Logger

	bgCtx    context.Context
	cancelBg context.CancelFunc
	wg       sync.WaitGroup
}

func NewEngine(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = log.NewNop()
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		resolver:   d.Resolver,
		registry:   d.Registry,
		sessions:   d.Sessions,
		keys:       d.Keys,
		client:     d.Client,
		synth:      d.Synthesizer,
		validators: d.Validators,
		logger:     d.Logger,
		bgCtx:      bgCtx,
		cancelBg:   cancel,
	}
}

// Close cancels in-flight background dispatches and waits for them.
func (e *Engine) Close() {
	e.cancelBg()
	e.wg.Wait()
}

// Turn processes one user message for a session and returns the reply
// text. Soft outcomes (ambiguous input, invalid slot value, downstream
// failure) are normal replies; a returned error means a collaborator
// failed and the whole turn should be retried by the caller.
func (e *Engine) Turn(ctx context.Context, userID, sessionID, message string) (string, error) {
	st, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}

	if st.AwaitingIntent() {
		return e.resolveTurn(ctx, userID, sessionID, message)
	}

	if !st.Slots.Complete() {
		idx, _ := st.Slots.FirstUnfilled()
		name := st.Slots[idx].Name
		if !e.validators.Accept(name, message) {
			return fmt.Sprintf("Sorry, that is an incorrect value for %s. Please provide it again.", name), nil
		}
		st.Slots[idx].Value = &message
		if err := e.sessions.Put(ctx, sessionID, st); err != nil {
			return "", fmt.Errorf("persist slots: %w", err)
		}
		if next, ok := st.Slots.FirstUnfilled(); ok {
			return fmt.Sprintf("Please provide %s.", st.Slots[next].Name), nil
		}
	}

	return e.fulfill(ctx, userID, sessionID, st)
}

// resolveTurn handles input for a session with no resolved intent yet.
func (e *Engine) resolveTurn(ctx context.Context, userID, sessionID, message string) (string, error) {
	name, ok, err := e.resolver.Resolve(ctx, message)
	if err != nil {
		return "", fmt.Errorf("resolve intent: %w", err)
	}
	if !ok {
		return msgNoMatch, nil
	}

	switch name {
	case intent.Greeting:
		return fmt.Sprintf("Hi %s, how may I assist you today with your AWS infrastructure?", userID), nil
	case intent.FreeForm:
		e.dispatchFreeForm(message)
		return fmt.Sprintf("We have processed your request to %s. Please wait while we fetch the resources.", name), nil
	}

	tpl, err := e.registry.Lookup(ctx, message)
	if err != nil {
		return "", fmt.Errorf("lookup template: %w", err)
	}
	if tpl == nil {
		return "", fmt.Errorf("dialog: resolved intent %q has no template", name)
	}

	st := session.State{
		UserID: userID,
		Intent: name,
		Slots:  session.NewSlots(tpl.RequiredSlots),
	}
	if err := e.sessions.Put(ctx, sessionID, st); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	if len(tpl.RequiredSlots) > 0 {
		return fmt.Sprintf("I understand you want to %s. Can you provide the following details? \n \n %s:", name, tpl.RequiredSlots[0]), nil
	}
	// No slots to collect: dispatch in the same turn.
	return e.fulfill(ctx, userID, sessionID, st)
}

// fulfill dispatches a completed slot set downstream. Whatever the
// outcome, the session is reset: exactly one fulfillment attempt per
// completed slot set, no automatic retry.
func (e *Engine) fulfill(ctx context.Context, userID, sessionID string, st session.State) (string, error) {
	tpl, err := e.registry.Lookup(ctx, st.Intent)
	if err != nil {
		return "", fmt.Errorf("lookup template: %w", err)
	}
	if tpl == nil {
		return "", fmt.Errorf("dialog: intent %q has no template", st.Intent)
	}

	payload, err := fulfill.BuildPayload(st.Intent, userID, st.Slots)
	if err != nil {
		return "", err
	}

	result, invokeErr := e.dispatch(ctx, tpl.Method, tpl.Endpoint, payload)
	if err := e.sessions.Clear(ctx, sessionID, userID); err != nil {
		return "", fmt.Errorf("reset session: %w", err)
	}
	if invokeErr != nil {
		e.logger.Warn("fulfillment failed", "intent", st.Intent, "error", invokeErr)
		return fmt.Sprintf("Seems like your request to %s failed.", st.Intent), nil
	}

	switch {
	case result.Deleted():
		resource, _ := st.Slots.Value("Resource Name")
		return fmt.Sprintf("Successfully deleted %s", resource), nil

	case result.Created():
		// Result attribution needs the deployment key; a 201 without one
		// is indistinguishable from a broken downstream deploy.
		if result.KeyID == "" {
			e.logger.Warn("create accepted without key_id", "intent", st.Intent)
			return fmt.Sprintf("Seems like your request to %s failed.", st.Intent), nil
		}
		if err := e.keys.Put(ctx, result.KeyID, userID, sessionID); err != nil {
			e.logger.Warn("recording key mapping failed", "key_id", result.KeyID, "error", err)
		}
		return msgCreateOK, nil

	case result.Queried():
		return fmt.Sprintf("Here are your resources: %s", strings.Join(result.ResourceNames, ", ")), nil

	default:
		return "", fmt.Errorf("dialog: unclassified result status %d", result.Status)
	}
}

func (e *Engine) dispatch(ctx context.Context, method, endpoint string, payload map[string]any) (*provision.Result, error) {
	token, err := e.client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return e.client.Invoke(ctx, method, endpoint, payload, token)
}

// dispatchFreeForm runs the one-shot synthesis branch off-turn. The user
// already got their acknowledgment; no deployment key is captured on this
// path, so a bare 201 is a complete success.
func (e *Engine) dispatchFreeForm(input string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.bgCtx, freeFormTimeout)
		defer cancel()

		definition, err := e.synth.Synthesize(ctx, input)
		if err != nil {
			e.logger.Error("definition synthesis failed", "error", err)
			return
		}

		result, err := e.dispatch(ctx, http.MethodPost, freeFormEndpoint, map[string]any{"file_data": definition})
		if err != nil {
			e.logger.Error("free-form dispatch failed", "error", err)
			return
		}
		if !result.Created() {
			e.logger.Warn("unexpected free-form result status", "status", result.Status)
			return
		}
		e.logger.Debug("custom definition dispatched")
	}()
}
