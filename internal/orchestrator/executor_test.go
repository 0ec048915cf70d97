package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GenerationTimeout = time.Second
	cfg.DeployTimeout = time.Second
	cfg.ProbeTimeout = time.Second
	cfg.RepairTimeout = time.Second
	cfg.PromotionTimeout = time.Second
	cfg.PersistTimeout = time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, h *harness, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	o, err := New(testConfig(), h.collaborators(), opts...)
	require.NoError(t, err)
	return o
}

func specRequest(cap int) Request {
	return Request{
		Input:        Input{Kind: KindSpecification, Payload: "https://api.example.com/openapi.json"},
		IterationCap: cap,
		OwnerID:      "proj-1",
	}
}

func descRequest(cap int) Request {
	return Request{
		Input:        Input{Kind: KindDescription, Payload: "weather lookup tool"},
		IterationCap: cap,
	}
}

var (
	passing = ProbeResult{Passed: true, StatusCode: 200}
	failing = ProbeResult{Passed: false, StatusCode: 500, Detail: "Internal Server Error"}
)

// phaseRecorder collects transition targets.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []Phase
	last   Transition
}

func (r *phaseRecorder) OnTransition(_ context.Context, t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, t.To)
	r.last = t
}

func (r *phaseRecorder) Phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func TestNew(t *testing.T) {
	t.Run("requires collaborators", func(t *testing.T) {
		_, err := New(DefaultConfig(), Collaborators{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "generator cannot be nil")
		assert.Contains(t, err.Error(), "promoter cannot be nil")
		assert.NotContains(t, err.Error(), "store")
	})

	t.Run("store is optional", func(t *testing.T) {
		c := newHarness().collaborators()
		c.Store = nil
		_, err := New(DefaultConfig(), c)
		assert.NoError(t, err)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ProbeTimeout = 0
		_, err := New(cfg, newHarness().collaborators())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "probe timeout must be positive")
	})
}

func TestOrchestrator_NewRunID(t *testing.T) {
	o := newTestOrchestrator(t, newHarness())
	a, b := o.NewRunID(), o.NewRunID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}

func TestRun_FirstProbePasses(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, testEndpoints.ProtocolEndpoint).Return(passing, nil)
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("rec-9", nil)

	rec := &phaseRecorder{}
	o := newTestOrchestrator(t, h, WithObserver(rec))

	s := o.Run(context.Background(), specRequest(3))

	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.True(t, s.Succeeded())
	assert.Equal(t, 0, s.Iterations)
	assert.Equal(t, 3, s.IterationCap)
	assert.Empty(t, s.Errors)
	assert.Zero(t, CountKind(s.Errors, KindProbeFailure))
	assert.Empty(t, s.ErrorKind)
	assert.Equal(t, "repo-123", s.RepositoryID)
	assert.Equal(t, "mcp-server-20260314-092653", s.RepositoryName)
	assert.Equal(t, testEndpoints.SandboxEndpoint, s.SandboxURL)
	assert.Equal(t, testEndpoints.ProtocolEndpoint, s.ProtocolURL)
	assert.Equal(t, testEndpoints.CodeEditorEndpoint, s.CodeEditorURL)
	assert.Equal(t, "dep-1", s.DeploymentID)
	assert.Equal(t, "https://weather.freestyle.sh", s.ProductionURL)
	assert.Equal(t, "rec-9", s.RecordID)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, fixedNow, *s.CompletedAt)
	assert.Equal(t, []string{"index.js", "package.json"}, s.Files)

	assert.Equal(t, []Phase{PhaseGenerating, PhaseDeploying, PhaseTesting, PhasePromoting, PhaseCompleted}, rec.Phases())
	h.repairer.AssertNotCalled(t, "Repair", mock.Anything, mock.Anything, mock.Anything)
	h.store.AssertNumberOfCalls(t, "SaveRecord", 1)
	h.store.AssertCalled(t, "SaveRecord", mock.Anything, Record{
		OwnerID:     "proj-1",
		Name:        "mcp-server-20260314-092653",
		Endpoint:    "https://weather.freestyle.sh",
		Description: "https://api.example.com/openapi.json",
	})
}

func TestRun_EmptyPayload(t *testing.T) {
	for _, payload := range []string{"", "   ", "\n\t"} {
		t.Run(fmt.Sprintf("%q", payload), func(t *testing.T) {
			h := newHarness()
			o := newTestOrchestrator(t, h)

			s := o.Run(context.Background(), Request{
				Input:        Input{Kind: KindDescription, Payload: payload},
				IterationCap: 3,
			})

			assert.Equal(t, PhaseFailed, s.Phase)
			require.Len(t, s.Errors, 1)
			assert.Equal(t, KindValidation, s.Errors[0].Kind)
			assert.Equal(t, PhaseIdle, s.Errors[0].Phase)
			assert.Equal(t, KindValidation, s.ErrorKind)
			assert.Nil(t, s.CompletedAt)
			h.assertNoCalls(t)
		})
	}
}

func TestRun_InvalidSpecificationURL(t *testing.T) {
	h := newHarness()
	o := newTestOrchestrator(t, h)

	s := o.Run(context.Background(), Request{
		Input:        Input{Kind: KindSpecification, Payload: "not-a-url"},
		IterationCap: 3,
	})

	assert.Equal(t, PhaseFailed, s.Phase)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, KindValidation, s.Errors[0].Kind)
	assert.False(t, s.HasDeployment())
	assert.Empty(t, s.ProtocolURL)
	h.assertNoCalls(t)
}

func TestRun_ZeroCapIsValidationError(t *testing.T) {
	h := newHarness()
	o := newTestOrchestrator(t, h)

	s := o.Run(context.Background(), descRequest(0))

	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, KindValidation, s.ErrorKind)
	h.assertNoCalls(t)
}

func TestRun_IterationsExhausted(t *testing.T) {
	for cap := 1; cap <= 4; cap++ {
		t.Run(fmt.Sprintf("cap=%d", cap), func(t *testing.T) {
			h := newHarness()
			h.expectDeploy()
			h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil)
			h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("console.log('fixed')", nil)

			o := newTestOrchestrator(t, h)
			s := o.Run(context.Background(), descRequest(cap))

			assert.Equal(t, PhaseFailed, s.Phase)
			assert.Equal(t, cap, s.Iterations)
			assert.Equal(t, KindIterationExhausted, s.ErrorKind)
			h.repairer.AssertNumberOfCalls(t, "Repair", cap)
			h.probe.AssertNumberOfCalls(t, "Probe", cap+1)
			assert.Equal(t, cap+1, CountKind(s.Errors, KindProbeFailure))
			assert.Equal(t, 1, CountKind(s.Errors, KindIterationExhausted))
			h.promoter.AssertNotCalled(t, "Promote", mock.Anything, mock.Anything)
			h.store.AssertNotCalled(t, "SaveRecord", mock.Anything, mock.Anything)
		})
	}
}

func TestRun_DescriptionAllProbesFail(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil)
	h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("console.log('fixed')", nil)

	rec := &phaseRecorder{}
	o := newTestOrchestrator(t, h, WithObserver(rec))
	s := o.Run(context.Background(), descRequest(2))

	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, 2, s.Iterations)
	assert.Equal(t, KindIterationExhausted, s.ErrorKind)
	assert.True(t, s.HasDeployment())

	assert.Equal(t, []Phase{
		PhaseGenerating, PhaseDeploying, PhaseTesting,
		PhaseRefining, PhaseTesting,
		PhaseRefining, PhaseTesting,
		PhaseFailed,
	}, rec.Phases())

	kinds := make([]Kind, len(s.Errors))
	for i, e := range s.Errors {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []Kind{KindProbeFailure, KindProbeFailure, KindProbeFailure, KindIterationExhausted}, kinds)
	assert.Contains(t, s.Errors[3].Message, "after 2 of 2 repair iterations")
	assert.Contains(t, s.Errors[0].Message, "status 500")
}

func TestRun_RepairFixesServer(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil).Once()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.repairer.On("Repair", mock.Anything, "console.log('hello')", mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "index.js") && strings.Contains(s, "Internal Server Error")
	})).Return("console.log('fixed')", nil)
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("rec-1", nil)

	o := newTestOrchestrator(t, h)
	s := o.Run(context.Background(), descRequest(3))

	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, 1, s.Iterations)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, KindProbeFailure, s.Errors[0].Kind)
	assert.Equal(t, PhaseTesting, s.Errors[0].Phase)
	assert.Empty(t, s.ErrorKind)

	// The repaired bundle is synced back into the sandbox.
	h.sandbox.AssertCalled(t, "RequestSandbox", mock.Anything, "repo-123", mock.MatchedBy(func(b Bundle) bool {
		return b["index.js"] == "console.log('fixed')"
	}))
	h.sandbox.AssertNumberOfCalls(t, "RequestSandbox", 2)
}

func TestRun_RepairFailureConsumesIteration(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil).Once()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("rate limited"))
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("rec-1", nil)

	o := newTestOrchestrator(t, h)
	s := o.Run(context.Background(), descRequest(3))

	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, 1, s.Iterations)
	require.Len(t, s.Errors, 2)
	assert.Equal(t, KindProbeFailure, s.Errors[0].Kind)
	assert.Equal(t, KindRepair, s.Errors[1].Kind)
	assert.Equal(t, PhaseRefining, s.Errors[1].Phase)
	assert.Contains(t, s.Errors[1].Message, "rate limited")
	h.repairer.AssertNumberOfCalls(t, "Repair", 1)
	// No re-sync after a failed repair.
	h.sandbox.AssertNumberOfCalls(t, "RequestSandbox", 1)
}

func TestRun_EmptyRepairIsRepairError(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil)
	h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("", nil)

	o := newTestOrchestrator(t, h)
	s := o.Run(context.Background(), descRequest(1))

	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, 1, s.Iterations)
	assert.Equal(t, 1, CountKind(s.Errors, KindRepair))
	assert.Contains(t, s.Errors[1].Message, "empty content")
}

func TestRun_ProbeErrorIsFailingProbe(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(ProbeResult{}, errors.New("connection refused")).Once()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("fixed", nil)
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("rec-1", nil)

	o := newTestOrchestrator(t, h)
	s := o.Run(context.Background(), descRequest(2))

	assert.Equal(t, PhaseCompleted, s.Phase)
	require.NotEmpty(t, s.Errors)
	assert.Equal(t, KindProbeFailure, s.Errors[0].Kind)
	assert.Contains(t, s.Errors[0].Message, "connection refused")
}

func TestRun_GenerationFailures(t *testing.T) {
	t.Run("collaborator error", func(t *testing.T) {
		h := newHarness()
		h.gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("generator exited 1"))

		o := newTestOrchestrator(t, h)
		s := o.Run(context.Background(), descRequest(2))

		assert.Equal(t, PhaseFailed, s.Phase)
		require.Len(t, s.Errors, 1)
		assert.Equal(t, KindGeneration, s.Errors[0].Kind)
		assert.Equal(t, PhaseGenerating, s.Errors[0].Phase)
		assert.Equal(t, "generator exited 1", s.Errors[0].Message)
		h.host.AssertNotCalled(t, "CreateRepository", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty bundle", func(t *testing.T) {
		h := newHarness()
		h.gen.On("Generate", mock.Anything, mock.Anything).Return(Bundle{}, nil)

		o := newTestOrchestrator(t, h)
		s := o.Run(context.Background(), descRequest(2))

		assert.Equal(t, KindGeneration, s.ErrorKind)
		assert.Equal(t, ErrEmptyBundle.Error(), s.Errors[0].Message)
	})
}

func TestRun_DeploymentFailures(t *testing.T) {
	t.Run("repository host", func(t *testing.T) {
		h := newHarness()
		h.gen.On("Generate", mock.Anything, mock.Anything).Return(testBundle.Clone(), nil)
		h.host.On("CreateRepository", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("name already exists"))

		o := newTestOrchestrator(t, h)
		s := o.Run(context.Background(), descRequest(2))

		assert.Equal(t, PhaseFailed, s.Phase)
		assert.Equal(t, KindDeployment, s.ErrorKind)
		assert.Equal(t, PhaseDeploying, s.Errors[0].Phase)
		assert.Contains(t, s.Errors[0].Message, "name already exists")
		assert.False(t, s.HasDeployment())
		h.sandbox.AssertNotCalled(t, "RequestSandbox", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no protocol endpoint", func(t *testing.T) {
		h := newHarness()
		h.gen.On("Generate", mock.Anything, mock.Anything).Return(testBundle.Clone(), nil)
		h.host.On("CreateRepository", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("repo-123", nil)
		h.sandbox.On("RequestSandbox", mock.Anything, mock.Anything, mock.Anything).
			Return(Endpoints{SandboxEndpoint: "https://sandbox.test"}, nil)

		o := newTestOrchestrator(t, h)
		s := o.Run(context.Background(), descRequest(2))

		assert.Equal(t, KindDeployment, s.ErrorKind)
		assert.Equal(t, ErrNoProtocolAddress.Error(), s.Errors[0].Message)
		h.probe.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
	})
}

func TestRun_Gates(t *testing.T) {
	t.Run("secret findings block deployment", func(t *testing.T) {
		h := newHarness()
		h.gen.On("Generate", mock.Anything, mock.Anything).Return(testBundle.Clone(), nil)
		scanner := &MockScanner{}
		scanner.On("ScanBundle", mock.Anything).Return([]Finding{{Path: "index.js", RuleID: "github-pat", Line: 3}}, nil)

		o := newTestOrchestrator(t, h, WithGate(NewSecretGate(scanner)))
		s := o.Run(context.Background(), descRequest(2))

		assert.Equal(t, PhaseFailed, s.Phase)
		require.Len(t, s.Errors, 1)
		assert.Equal(t, KindDeployment, s.Errors[0].Kind)
		assert.Contains(t, s.Errors[0].Message, "gate secret-scan")
		assert.Contains(t, s.Errors[0].Message, "index.js:3 (github-pat)")
		h.host.AssertNotCalled(t, "CreateRepository", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unsafe paths block deployment", func(t *testing.T) {
		h := newHarness()
		h.gen.On("Generate", mock.Anything, mock.Anything).Return(Bundle{"../escape.js": "x"}, nil)

		o := newTestOrchestrator(t, h)
		s := o.Run(context.Background(), descRequest(2))

		assert.Equal(t, KindDeployment, s.ErrorKind)
		assert.Contains(t, s.Errors[0].Message, "gate path-safety")
	})
}

func TestRun_PromotionFailures(t *testing.T) {
	cases := []struct {
		name   string
		result PromotionResult
		err    error
		want   string
	}{
		{name: "error", err: errors.New("quota exceeded"), want: "quota exceeded"},
		{name: "missing url", result: PromotionResult{DeploymentID: "dep-1"}, want: ErrNoProductionURL.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			h.expectDeploy()
			h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
			h.promoter.On("Promote", mock.Anything, "repo-123").Return(tc.result, tc.err)

			o := newTestOrchestrator(t, h)
			s := o.Run(context.Background(), specRequest(2))

			assert.Equal(t, PhaseFailed, s.Phase)
			assert.Equal(t, KindPromotion, s.ErrorKind)
			assert.Equal(t, PhasePromoting, s.Errors[0].Phase)
			assert.Contains(t, s.Errors[0].Message, tc.want)
			assert.Empty(t, s.ProductionURL)
			h.store.AssertNotCalled(t, "SaveRecord", mock.Anything, mock.Anything)
		})
	}
}

func TestRun_PersistenceFailureKeepsCompleted(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("", errors.New("database is locked"))

	logger := logging.NewTestLogger()
	o := newTestOrchestrator(t, h, WithLogger(logger.Logger))
	s := o.Run(context.Background(), specRequest(2))

	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Empty(t, s.RecordID)
	assert.Empty(t, s.Errors)
	h.store.AssertNumberOfCalls(t, "SaveRecord", 1)
	logger.AssertLogged(t, zapcore.WarnLevel, "failed to persist deployment record")
	logger.AssertField(t, "failed to persist deployment record", "kind", string(KindPersistence))
}

func TestRun_NilStoreSkipsPersistence(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.expectPromote()

	c := h.collaborators()
	c.Store = nil
	o, err := New(testConfig(), c)
	require.NoError(t, err)

	s := o.Run(context.Background(), specRequest(2))
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Empty(t, s.RecordID)
}

func TestRun_Cancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		h := newHarness()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		o := newTestOrchestrator(t, h)
		s := o.Run(ctx, descRequest(2))

		assert.Equal(t, PhaseFailed, s.Phase)
		require.Len(t, s.Errors, 1)
		assert.Equal(t, KindCancelled, s.Errors[0].Kind)
		h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("during probe", func(t *testing.T) {
		h := newHarness()
		h.expectDeploy()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.probe.On("Probe", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(ProbeResult{}, context.Canceled)

		o := newTestOrchestrator(t, h)
		s := o.Run(ctx, descRequest(3))

		assert.Equal(t, PhaseFailed, s.Phase)
		assert.Equal(t, KindCancelled, s.ErrorKind)
		assert.Equal(t, PhaseTesting, s.Errors[len(s.Errors)-1].Phase)
		assert.Zero(t, CountKind(s.Errors, KindProbeFailure))
		h.repairer.AssertNotCalled(t, "Repair", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("cancelled while a failing result is returned", func(t *testing.T) {
		h := newHarness()
		h.expectDeploy()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.probe.On("Probe", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(ProbeResult{Passed: false, Detail: context.Canceled.Error()}, nil)

		o := newTestOrchestrator(t, h)
		s := o.Run(ctx, descRequest(1))

		assert.Equal(t, PhaseFailed, s.Phase)
		assert.Equal(t, KindCancelled, s.ErrorKind)
		assert.Zero(t, CountKind(s.Errors, KindProbeFailure))
		assert.Zero(t, CountKind(s.Errors, KindIterationExhausted))
		h.repairer.AssertNotCalled(t, "Repair", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("between iterations", func(t *testing.T) {
		h := newHarness()
		h.expectDeploy()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil)
		h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("fixed", nil)

		o := newTestOrchestrator(t, h, WithObserver(ObserverFunc(func(_ context.Context, tr Transition) {
			if tr.To == PhaseTesting && tr.From == PhaseRefining {
				cancel()
			}
		})))
		s := o.Run(ctx, descRequest(5))

		assert.Equal(t, KindCancelled, s.ErrorKind)
		assert.Equal(t, 1, s.Iterations)
		h.repairer.AssertNumberOfCalls(t, "Repair", 1)
	})
}

func TestRun_CallTimeout(t *testing.T) {
	h := newHarness()
	h.gen.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	cfg := testConfig()
	cfg.GenerationTimeout = 20 * time.Millisecond
	o, err := New(cfg, h.collaborators())
	require.NoError(t, err)

	s := o.Run(context.Background(), descRequest(2))

	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, KindGeneration, s.ErrorKind)
	assert.Contains(t, s.Errors[0].Message, "generate timed out after 20ms")
}

func TestRun_IterationNeverDecreases(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil)
	h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("fixed", nil)

	var (
		mu         sync.Mutex
		iterations []int
	)
	o := newTestOrchestrator(t, h)
	o.observers = append(o.observers, ObserverFunc(func(_ context.Context, tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		iterations = append(iterations, tr.Iteration)
	}))
	s := o.Run(context.Background(), descRequest(3))

	require.NotEmpty(t, iterations)
	for i := 1; i < len(iterations); i++ {
		assert.GreaterOrEqual(t, iterations[i], iterations[i-1])
	}
	assert.Equal(t, 3, iterations[len(iterations)-1])
	for i := 1; i < len(s.Errors); i++ {
		assert.False(t, s.Errors[i].Timestamp.Before(s.Errors[i-1].Timestamp))
	}
}

func TestRun_TransitionCarriesFailure(t *testing.T) {
	h := newHarness()
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	rec := &phaseRecorder{}
	o := newTestOrchestrator(t, h, WithObserver(rec))
	s := o.Run(context.Background(), Request{
		Input:        Input{Kind: KindDescription, Payload: "todo app"},
		IterationCap: 1,
		OwnerID:      "owner-7",
	})

	assert.Equal(t, PhaseFailed, rec.last.To)
	assert.Equal(t, PhaseGenerating, rec.last.From)
	assert.Equal(t, s.RunID, rec.last.RunID)
	assert.Equal(t, "owner-7", rec.last.OwnerID)
	assert.Contains(t, rec.last.Error, "boom")
}

func TestRun_Concurrent(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("rec", nil)

	o, err := New(testConfig(), h.collaborators())
	require.NoError(t, err)

	const runs = 8
	summaries := make([]Summary, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i] = o.Run(context.Background(), specRequest(2))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, s := range summaries {
		assert.Equal(t, PhaseCompleted, s.Phase)
		assert.False(t, seen[s.RunID], "duplicate run id %s", s.RunID)
		seen[s.RunID] = true
	}
	h.store.AssertNumberOfCalls(t, "SaveRecord", runs)
}

func TestRun_Telemetry(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(failing, nil).Once()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.repairer.On("Repair", mock.Anything, mock.Anything, mock.Anything).Return("fixed", nil)
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("rec", nil)

	tt := telemetry.NewTestTelemetry()
	o := newTestOrchestrator(t, h,
		WithTracer(tt.Tracer("test")),
		WithMeter(tt.Meter("test")),
	)
	ctx := context.Background()
	s := o.Run(ctx, descRequest(3))
	require.Equal(t, PhaseCompleted, s.Phase)

	names := tt.SpanNames()
	for _, want := range []string{
		"orchestrator.run", "orchestrator.generate", "orchestrator.create_repository",
		"orchestrator.request_sandbox", "orchestrator.probe", "orchestrator.repair", "orchestrator.promote",
	} {
		assert.Contains(t, names, want)
	}
	tt.AssertSpanAttribute(t, "orchestrator.run", "phase", "completed")
	tt.AssertSpanAttribute(t, "orchestrator.run", "run_id", s.RunID)

	runs, ok := tt.SumValue(ctx, "mcpforge.runs.total", attribute.String("phase", "completed"))
	require.True(t, ok)
	assert.Equal(t, int64(1), runs)

	repairs, ok := tt.SumValue(ctx, "mcpforge.repairs.total", attribute.String("outcome", "applied"))
	require.True(t, ok)
	assert.Equal(t, int64(1), repairs)

	refining, ok := tt.SumValue(ctx, "mcpforge.phase.transitions", attribute.String("phase", "refining"))
	require.True(t, ok)
	assert.Equal(t, int64(1), refining)
}

func TestRun_LogsCarryRunID(t *testing.T) {
	h := newHarness()
	h.expectDeploy()
	h.probe.On("Probe", mock.Anything, mock.Anything).Return(passing, nil)
	h.expectPromote()
	h.store.On("SaveRecord", mock.Anything, mock.Anything).Return("rec", nil)

	logger := logging.NewTestLogger()
	o := newTestOrchestrator(t, h, WithLogger(logger.Logger))
	s := o.Run(context.Background(), specRequest(1))

	logger.AssertLogged(t, zapcore.InfoLevel, "run finished")
	logger.AssertField(t, "run finished", "run_id", s.RunID)
	logger.AssertField(t, "run started", "owner_id", "proj-1")
}
