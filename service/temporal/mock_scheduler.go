package temporal

import (
	"context"
	"fmt"
	"sync"
)

// MockScheduler is an in-memory Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	workflows map[string]*IngestStatus // map[workflowID]status
	inputs    map[string]IngestWorkflowInput
	startErr  error
	stopErr   error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		workflows: make(map[string]*IngestStatus),
		inputs:    make(map[string]IngestWorkflowInput),
	}
}

// StartIngest records a running workflow. Starting twice reuses the first.
func (m *MockScheduler) StartIngest(ctx context.Context, input IngestWorkflowInput) (*IngestStatus, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := workflowID(input.CursorName)
	if st, ok := m.workflows[id]; ok && st.Status == "Running" {
		return st, nil
	}
	st := &IngestStatus{
		WorkflowID: id,
		RunID:      fmt.Sprintf("run-%d", len(m.inputs)+1),
		Status:     "Running",
		State:      &IngestState{Window: input.Window},
	}
	m.workflows[id] = st
	m.inputs[id] = input
	return st, nil
}

// DescribeIngest returns the recorded status.
func (m *MockScheduler) DescribeIngest(ctx context.Context, cursorName string) (*IngestStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := workflowID(cursorName)
	st, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", id)
	}
	cp := *st
	return &cp, nil
}

// StopIngest marks the workflow canceled.
func (m *MockScheduler) StopIngest(ctx context.Context, cursorName string) error {
	if m.stopErr != nil {
		return m.stopErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := workflowID(cursorName)
	st, ok := m.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %q not found", id)
	}
	st.Status = "Canceled"
	return nil
}

// SetStartError makes StartIngest return an error.
func (m *MockScheduler) SetStartError(err error) {
	m.startErr = err
}

// SetStopError makes StopIngest return an error.
func (m *MockScheduler) SetStopError(err error) {
	m.stopErr = err
}

// Input returns the input the workflow for cursorName was started with.
func (m *MockScheduler) Input(cursorName string) (IngestWorkflowInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inputs[workflowID(cursorName)]
	return in, ok
}

// WorkflowCount returns the number of started workflows.
func (m *MockScheduler) WorkflowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workflows)
}

// Reset clears all workflows and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = make(map[string]*IngestStatus)
	m.inputs = make(map[string]IngestWorkflowInput)
	m.startErr = nil
	m.stopErr = nil
}

var _ Scheduler = (*MockScheduler)(nil)
var _ Scheduler = (*Client)(nil)
