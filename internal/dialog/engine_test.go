package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rayadhanush/infrapilot-kb/internal/intent"
	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/log"
	"github.com/rayadhanush/infrapilot-kb/internal/provision"
	"github.com/rayadhanush/infrapilot-kb/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockResolver struct {
	intent string
	match  bool
	err    error
}

func (m *mockResolver) Resolve(_ context.Context, _ string) (string, bool, error) {
	return m.intent, m.match, m.err
}

type mockRegistry struct {
	templates map[string]*knowledge.Template
	err       error
}

func (m *mockRegistry) Lookup(_ context.Context, textOrIntent string) (*knowledge.Template, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.templates[textOrIntent], nil
}

type memSessions struct {
	mu     sync.Mutex
	states map[string]session.State
	getErr error
	putErr error
}

func newMemSessions() *memSessions {
	return &memSessions{states: make(map[string]session.State)}
}

func (m *memSessions) Get(_ context.Context, sessionID string) (session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return session.State{}, m.getErr
	}
	return m.states[sessionID], nil
}

func (m *memSessions) Put(_ context.Context, sessionID string, st session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.states[sessionID] = st
	return nil
}

func (m *memSessions) Clear(ctx context.Context, sessionID, userID string) error {
	return m.Put(ctx, sessionID, session.State{UserID: userID})
}

func (m *memSessions) state(sessionID string) session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[sessionID]
}

type mockKeys struct {
	mu       sync.Mutex
	mappings map[string]string
	err      error
}

func newMockKeys() *mockKeys {
	return &mockKeys{mappings: make(map[string]string)}
}

func (m *mockKeys) Put(_ context.Context, keyID, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.mappings[keyID] = userID + "/" + sessionID
	return nil
}

type invokeCall struct {
	method   string
	endpoint string
	payload  map[string]any
	token    string
}

type mockProvisioner struct {
	mu        sync.Mutex
	calls     []invokeCall
	authErr   error
	invokeErr error
	result    *provision.Result
}

func (m *mockProvisioner) Authenticate(_ context.Context) (string, error) {
	if m.authErr != nil {
		return "", m.authErr
	}
	return "tok-test", nil
}

func (m *mockProvisioner) Invoke(_ context.Context, method, endpoint string, payload map[string]any, token string) (*provision.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, invokeCall{method: method, endpoint: endpoint, payload: payload, token: token})
	if m.invokeErr != nil {
		return nil, m.invokeErr
	}
	return m.result, nil
}

func (m *mockProvisioner) invoked() []invokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]invokeCall(nil), m.calls...)
}

type mockSynth struct {
	definition string
	err        error
}

func (m *mockSynth) Synthesize(_ context.Context, _ string) (string, error) {
	return m.definition, m.err
}

func ec2Registry() *mockRegistry {
	tpl := &knowledge.Template{
		Intent:        "Create an EC2 instance",
		RequiredSlots: []string{"Instance Name", "Instance Type", "Ami ID"},
		Method:        "POST",
		Endpoint:      "/api/ec2/",
	}
	return &mockRegistry{templates: map[string]*knowledge.Template{
		"create an EC2 instance": tpl,
		"Create an EC2 instance": tpl,
	}}
}

type engineFixture struct {
	engine   *Engine
	sessions *memSessions
	keys     *mockKeys
	client   *mockProvisioner
}

func newEngine(t *testing.T, d Deps) *engineFixture {
	t.Helper()
	f := &engineFixture{
		sessions: newMemSessions(),
		keys:     newMockKeys(),
		client:   &mockProvisioner{},
	}
	if d.Sessions == nil {
		d.Sessions = f.sessions
	} else {
		f.sessions = d.Sessions.(*memSessions)
	}
	if d.Keys == nil {
		d.Keys = f.keys
	}
	if d.Client == nil {
		d.Client = f.client
	} else {
		f.client = d.Client.(*mockProvisioner)
	}
	d.Logger = log.NewNop()
	f.engine = NewEngine(d)
	t.Cleanup(f.engine.Close)
	return f
}

func TestTurnNoMatchLeavesSessionUnchanged(t *testing.T) {
	f := newEngine(t, Deps{Resolver: &mockResolver{match: false}})

	reply, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "flibbertigibbet")
	require.NoError(t, err)

	assert.Equal(t, "Sorry, I couldn't understand your request. Can you clarify?", reply)
	assert.Equal(t, session.State{}, f.sessions.state("s1"))
}

func TestTurnGreeting(t *testing.T) {
	f := newEngine(t, Deps{Resolver: &mockResolver{intent: intent.Greeting, match: true}})

	reply, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "hi")
	require.NoError(t, err)

	assert.Equal(t, "Hi dev@example.com, how may I assist you today with your AWS infrastructure?", reply)
	assert.Equal(t, session.State{}, f.sessions.state("s1"))
}

func TestTurnIntentMatchInitializesSlots(t *testing.T) {
	f := newEngine(t, Deps{
		Resolver: &mockResolver{intent: "Create an EC2 instance", match: true},
		Registry: ec2Registry(),
	})

	reply, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "create an EC2 instance")
	require.NoError(t, err)

	assert.Equal(t, "I understand you want to Create an EC2 instance. Can you provide the following details? \n \n Instance Name:", reply)

	st := f.sessions.state("s1")
	assert.Equal(t, "Create an EC2 instance", st.Intent)
	require.Len(t, st.Slots, 3)
	assert.Equal(t, "Instance Name", st.Slots[0].Name)
	assert.Nil(t, st.Slots[0].Value)
	assert.Nil(t, st.Slots[2].Value)
}

func TestTurnSlotFillingToCreate(t *testing.T) {
	f := newEngine(t, Deps{
		Resolver: &mockResolver{intent: "Create an EC2 instance", match: true},
		Registry: ec2Registry(),
		Client:   &mockProvisioner{result: &provision.Result{Status: 201, KeyID: "dep-42"}},
	})
	ctx := context.Background()

	_, err := f.engine.Turn(ctx, "dev@example.com", "s1", "create an EC2 instance")
	require.NoError(t, err)

	reply, err := f.engine.Turn(ctx, "dev@example.com", "s1", "web-server")
	require.NoError(t, err)
	assert.Equal(t, "Please provide Instance Type.", reply)

	reply, err = f.engine.Turn(ctx, "dev@example.com", "s1", "t2.micro")
	require.NoError(t, err)
	assert.Equal(t, "Please provide Ami ID.", reply)

	reply, err = f.engine.Turn(ctx, "dev@example.com", "s1", "ami-0abcdef1")
	require.NoError(t, err)
	assert.Equal(t, msgCreateOK, reply)

	calls := f.client.invoked()
	require.Len(t, calls, 1)
	assert.Equal(t, "POST", calls[0].method)
	assert.Equal(t, "/api/ec2/", calls[0].endpoint)
	assert.Equal(t, map[string]any{
		"username":          "dev@example.com",
		"ec_instance_name":  "web-server",
		"ec2_instance_type": "t2.micro",
		"ec2_ami_id":        "ami-0abcdef1",
	}, calls[0].payload)

	assert.Equal(t, "dev@example.com/s1", f.keys.mappings["dep-42"])
	assert.Equal(t, session.State{UserID: "dev@example.com"}, f.sessions.state("s1"))
}

func TestTurnInvalidSlotValueDoesNotAdvance(t *testing.T) {
	f := newEngine(t, Deps{
		Resolver:   &mockResolver{intent: "Create an EC2 instance", match: true},
		Registry:   ec2Registry(),
		Validators: StrictValidators(),
		Client:     &mockProvisioner{result: &provision.Result{Status: 201, KeyID: "dep-42"}},
	})
	ctx := context.Background()

	_, err := f.engine.Turn(ctx, "dev@example.com", "s1", "create an EC2 instance")
	require.NoError(t, err)
	_, err = f.engine.Turn(ctx, "dev@example.com", "s1", "web-server")
	require.NoError(t, err)
	_, err = f.engine.Turn(ctx, "dev@example.com", "s1", "t2.micro")
	require.NoError(t, err)

	before := f.sessions.state("s1")
	reply, err := f.engine.Turn(ctx, "dev@example.com", "s1", "not-an-ami")
	require.NoError(t, err)

	assert.Equal(t, "Sorry, that is an incorrect value for Ami ID. Please provide it again.", reply)
	assert.Equal(t, before, f.sessions.state("s1"))

	reply, err = f.engine.Turn(ctx, "dev@example.com", "s1", "ami-0abcdef1")
	require.NoError(t, err)
	assert.NotContains(t, reply, "incorrect value")
}

func TestTurnCreateWithoutKeyIDResetsSession(t *testing.T) {
	f := newEngine(t, Deps{
		Resolver: &mockResolver{intent: "Create an EC2 instance", match: true},
		Registry: ec2Registry(),
		Client:   &mockProvisioner{result: &provision.Result{Status: 201}},
	})
	ctx := context.Background()

	_, err := f.engine.Turn(ctx, "dev@example.com", "s1", "create an EC2 instance")
	require.NoError(t, err)
	for _, value := range []string{"web-server", "t2.micro"} {
		_, err = f.engine.Turn(ctx, "dev@example.com", "s1", value)
		require.NoError(t, err)
	}

	reply, err := f.engine.Turn(ctx, "dev@example.com", "s1", "ami-0abcdef1")
	require.NoError(t, err)

	assert.Equal(t, "Seems like your request to Create an EC2 instance failed.", reply)
	assert.Empty(t, f.keys.mappings)
	assert.Equal(t, session.State{UserID: "dev@example.com"}, f.sessions.state("s1"))
}

func TestTurnTransportErrorResetsSession(t *testing.T) {
	f := newEngine(t, Deps{
		Resolver: &mockResolver{intent: "Create an EC2 instance", match: true},
		Registry: ec2Registry(),
		Client:   &mockProvisioner{invokeErr: errors.New("connection refused")},
	})
	ctx := context.Background()

	_, err := f.engine.Turn(ctx, "dev@example.com", "s1", "create an EC2 instance")
	require.NoError(t, err)
	for _, value := range []string{"web-server", "t2.micro"} {
		_, err = f.engine.Turn(ctx, "dev@example.com", "s1", value)
		require.NoError(t, err)
	}

	reply, err := f.engine.Turn(ctx, "dev@example.com", "s1", "ami-0abcdef1")
	require.NoError(t, err)

	assert.Equal(t, "Seems like your request to Create an EC2 instance failed.", reply)
	assert.Equal(t, session.State{UserID: "dev@example.com"}, f.sessions.state("s1"))
}

func TestTurnAuthErrorResetsSession(t *testing.T) {
	deleteTpl := &knowledge.Template{
		Intent:        "Delete your EC2 instance",
		RequiredSlots: []string{"Resource Name"},
		Method:        "DELETE",
		Endpoint:      "/api/ec2/",
	}
	f := newEngine(t, Deps{
		Resolver: &mockResolver{intent: "Delete your EC2 instance", match: true},
		Registry: &mockRegistry{templates: map[string]*knowledge.Template{
			"delete web-server":        deleteTpl,
			"Delete your EC2 instance": deleteTpl,
		}},
		Client: &mockProvisioner{authErr: errors.New("401")},
	})
	ctx := context.Background()

	_, err := f.engine.Turn(ctx, "dev@example.com", "s1", "delete web-server")
	require.NoError(t, err)

	reply, err := f.engine.Turn(ctx, "dev@example.com", "s1", "web-server")
	require.NoError(t, err)

	assert.Equal(t, "Seems like your request to Delete your EC2 instance failed.", reply)
	assert.Equal(t, session.State{UserID: "dev@example.com"}, f.sessions.state("s1"))
}

func TestTurnDeleteSuccess(t *testing.T) {
	deleteTpl := &knowledge.Template{
		Intent:        "Delete your EC2 instance",
		RequiredSlots: []string{"Resource Name"},
		Method:        "DELETE",
		Endpoint:      "/api/ec2/",
	}
	f := newEngine(t, Deps{
		Resolver: &mockResolver{intent: "Delete your EC2 instance", match: true},
		Registry: &mockRegistry{templates: map[string]*knowledge.Template{
			"delete web-server":        deleteTpl,
			"Delete your EC2 instance": deleteTpl,
		}},
		Client: &mockProvisioner{result: &provision.Result{Status: 204}},
	})
	ctx := context.Background()

	_, err := f.engine.Turn(ctx, "dev@example.com", "s1", "delete web-server")
	require.NoError(t, err)

	reply, err := f.engine.Turn(ctx, "dev@example.com", "s1", "web-server")
	require.NoError(t, err)

	assert.Equal(t, "Successfully deleted web-server", reply)
	assert.Equal(t, session.State{UserID: "dev@example.com"}, f.sessions.state("s1"))
}

func TestTurnQueryFulfillsSameTurn(t *testing.T) {
	searchTpl := &knowledge.Template{
		Intent:   "Search or Get your EC2 instances",
		Method:   "GET",
		Endpoint: "/api/ec2/search/",
	}
	f := newEngine(t, Deps{
		Resolver: &mockResolver{intent: "Search or Get your EC2 instances", match: true},
		Registry: &mockRegistry{templates: map[string]*knowledge.Template{
			"show my instances":                searchTpl,
			"Search or Get your EC2 instances": searchTpl,
		}},
		Client: &mockProvisioner{result: &provision.Result{
			Status:        200,
			ResourceNames: []string{"web-server", "db-host"},
		}},
	})

	reply, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "show my instances")
	require.NoError(t, err)

	assert.Equal(t, "Here are your resources: web-server, db-host", reply)

	calls := f.client.invoked()
	require.Len(t, calls, 1)
	assert.Equal(t, "GET", calls[0].method)
	assert.Equal(t, map[string]any{"username": "dev@example.com"}, calls[0].payload)
	assert.Equal(t, session.State{UserID: "dev@example.com"}, f.sessions.state("s1"))
}

func TestTurnFreeFormDispatchesAsync(t *testing.T) {
	// The custom endpoint answers 201 with no key_id; that is the
	// complete success shape for this path.
	f := newEngine(t, Deps{
		Resolver:    &mockResolver{intent: intent.FreeForm, match: true},
		Synthesizer: &mockSynth{definition: `resource "aws_security_group" "sg_1" {}`},
		Client:      &mockProvisioner{result: &provision.Result{Status: 201}},
	})

	reply, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "open port 443 for the web tier")
	require.NoError(t, err)
	assert.Equal(t, "We have processed your request to Create a security group. Please wait while we fetch the resources.", reply)

	f.engine.Close()

	calls := f.client.invoked()
	require.Len(t, calls, 1)
	assert.Equal(t, "POST", calls[0].method)
	assert.Equal(t, "/api/custom/", calls[0].endpoint)
	assert.Equal(t, map[string]any{"file_data": `resource "aws_security_group" "sg_1" {}`}, calls[0].payload)
	assert.Empty(t, f.keys.mappings)
	assert.Equal(t, session.State{}, f.sessions.state("s1"))
}

func TestTurnFreeFormRecordsNoKeyMapping(t *testing.T) {
	f := newEngine(t, Deps{
		Resolver:    &mockResolver{intent: intent.FreeForm, match: true},
		Synthesizer: &mockSynth{definition: `resource "aws_security_group" "sg_1" {}`},
		Client:      &mockProvisioner{result: &provision.Result{Status: 201, KeyID: "dep-77"}},
	})

	_, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "open port 443")
	require.NoError(t, err)
	f.engine.Close()

	require.Len(t, f.client.invoked(), 1)
	assert.Empty(t, f.keys.mappings)
}

func TestTurnFreeFormSynthesisFailureIsSilent(t *testing.T) {
	f := newEngine(t, Deps{
		Resolver:    &mockResolver{intent: intent.FreeForm, match: true},
		Synthesizer: &mockSynth{err: errors.New("model unavailable")},
	})

	reply, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "open port 443")
	require.NoError(t, err)
	assert.Contains(t, reply, "We have processed your request")

	f.engine.Close()
	assert.Empty(t, f.client.invoked())
}

func TestTurnResolverErrorPropagates(t *testing.T) {
	f := newEngine(t, Deps{Resolver: &mockResolver{err: errors.New("embedder down")}})

	_, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "hello")
	assert.ErrorContains(t, err, "embedder down")
}

func TestTurnSessionLoadErrorPropagates(t *testing.T) {
	sessions := newMemSessions()
	sessions.getErr = errors.New("redis down")
	f := newEngine(t, Deps{Resolver: &mockResolver{match: true}, Sessions: sessions})

	_, err := f.engine.Turn(context.Background(), "dev@example.com", "s1", "hello")
	assert.ErrorContains(t, err, "redis down")
}

func TestTurnSlotCountMatchesTurns(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("%d slots", n), func(t *testing.T) {
			slots := make([]string, n)
			for i := range slots {
				slots[i] = fmt.Sprintf("Slot %d", i)
			}
			slots[n-1] = "Resource Name"
			tpl := &knowledge.Template{
				Intent:        "Delete your EC2 instance",
				RequiredSlots: slots,
				Method:        "DELETE",
				Endpoint:      "/api/ec2/",
			}
			f := newEngine(t, Deps{
				Resolver: &mockResolver{intent: "Delete your EC2 instance", match: true},
				Registry: &mockRegistry{templates: map[string]*knowledge.Template{
					"go":                       tpl,
					"Delete your EC2 instance": tpl,
				}},
				Client: &mockProvisioner{result: &provision.Result{Status: 204}},
			})
			ctx := context.Background()

			_, err := f.engine.Turn(ctx, "dev@example.com", "s1", "go")
			require.NoError(t, err)

			for i := 0; i < n; i++ {
				assert.Empty(t, f.client.invoked(), "dispatch before slot %d filled", i)
				_, err = f.engine.Turn(ctx, "dev@example.com", "s1", fmt.Sprintf("value-%d", i))
				require.NoError(t, err)
			}
			assert.Len(t, f.client.invoked(), 1)
		})
	}
}
