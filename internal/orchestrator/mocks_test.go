package orchestrator

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGenerator is a mock implementation of Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, in Input) (Bundle, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Bundle), args.Error(1)
}

// MockRepositoryHost is a mock implementation of RepositoryHost
type MockRepositoryHost struct {
	mock.Mock
}

func (m *MockRepositoryHost) CreateRepository(ctx context.Context, name string, files Bundle, visibility Visibility) (string, error) {
	args := m.Called(ctx, name, files, visibility)
	return args.String(0), args.Error(1)
}

// MockSandbox is a mock implementation of Sandbox
type MockSandbox struct {
	mock.Mock
}

func (m *MockSandbox) RequestSandbox(ctx context.Context, repositoryID string, files Bundle) (Endpoints, error) {
	args := m.Called(ctx, repositoryID, files)
	return args.Get(0).(Endpoints), args.Error(1)
}

// MockProbe is a mock implementation of Probe
type MockProbe struct {
	mock.Mock
}

func (m *MockProbe) Probe(ctx context.Context, endpoint string) (ProbeResult, error) {
	args := m.Called(ctx, endpoint)
	return args.Get(0).(ProbeResult), args.Error(1)
}

// MockRepairer is a mock implementation of Repairer
type MockRepairer struct {
	mock.Mock
}

func (m *MockRepairer) Repair(ctx context.Context, content, instructions string) (string, error) {
	args := m.Called(ctx, content, instructions)
	return args.String(0), args.Error(1)
}

// MockPromoter is a mock implementation of Promoter
type MockPromoter struct {
	mock.Mock
}

func (m *MockPromoter) Promote(ctx context.Context, repositoryID string) (PromotionResult, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).(PromotionResult), args.Error(1)
}

// MockRecordStore is a mock implementation of RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) SaveRecord(ctx context.Context, rec Record) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

// MockScanner is a mock implementation of SecretScanner
type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) ScanBundle(files map[string]string) ([]Finding, error) {
	args := m.Called(files)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Finding), args.Error(1)
}

var testBundle = Bundle{
	"package.json": `{"name":"weather-mcp","scripts":{"dev":"node index.js"}}`,
	"index.js":     "console.log('hello')",
}

var testEndpoints = Endpoints{
	SandboxEndpoint:    "https://sandbox.test/dev",
	ProtocolEndpoint:   "https://sandbox.test",
	CodeEditorEndpoint: "https://sandbox.test/editor",
}

// harness wires mocks whose default behavior is a clean, successful run.
type harness struct {
	gen      *MockGenerator
	host     *MockRepositoryHost
	sandbox  *MockSandbox
	probe    *MockProbe
	repairer *MockRepairer
	promoter *MockPromoter
	store    *MockRecordStore
}

func newHarness() *harness {
	return &harness{
		gen:      &MockGenerator{},
		host:     &MockRepositoryHost{},
		sandbox:  &MockSandbox{},
		probe:    &MockProbe{},
		repairer: &MockRepairer{},
		promoter: &MockPromoter{},
		store:    &MockRecordStore{},
	}
}

func (h *harness) collaborators() Collaborators {
	return Collaborators{
		Generator: h.gen,
		Host:      h.host,
		Sandbox:   h.sandbox,
		Probe:     h.probe,
		Repairer:  h.repairer,
		Promoter:  h.promoter,
		Store:     h.store,
	}
}

// expectDeploy sets up generation and deployment to succeed.
func (h *harness) expectDeploy() {
	h.gen.On("Generate", mock.Anything, mock.Anything).Return(testBundle.Clone(), nil)
	h.host.On("CreateRepository", mock.Anything, mock.AnythingOfType("string"), mock.Anything, VisibilityPublic).
		Return("repo-123", nil)
	h.sandbox.On("RequestSandbox", mock.Anything, "repo-123", mock.Anything).Return(testEndpoints, nil)
}

func (h *harness) expectPromote() {
	h.promoter.On("Promote", mock.Anything, "repo-123").
		Return(PromotionResult{DeploymentID: "dep-1", ProductionURL: "https://weather.freestyle.sh"}, nil)
}

func (h *harness) assertNoCalls(t mock.TestingT) {
	h.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	h.host.AssertNotCalled(t, "CreateRepository", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.sandbox.AssertNotCalled(t, "RequestSandbox", mock.Anything, mock.Anything, mock.Anything)
	h.probe.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
	h.repairer.AssertNotCalled(t, "Repair", mock.Anything, mock.Anything, mock.Anything)
	h.promoter.AssertNotCalled(t, "Promote", mock.Anything, mock.Anything)
	h.store.AssertNotCalled(t, "SaveRecord", mock.Anything, mock.Anything)
}
