package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"mrzgate/internal/model"
)

// MockJobService is a testify mock for service.JobService.
type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) Submit(ctx context.Context, tenantID, imageKey string) (*model.Job, error) {
	args := m.Called(ctx, tenantID, imageKey)
	if job, ok := args.Get(0).(*model.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobService) Get(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*model.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobService) SubmitReview(ctx context.Context, id, line1, line2 string) (*model.Job, error) {
	args := m.Called(ctx, id, line1, line2)
	if job, ok := args.Get(0).(*model.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobService) RecordAsyncResult(ctx context.Context, jobID, engineName, line1, line2 string, latencyMS int64) (*model.Job, error) {
	args := m.Called(ctx, jobID, engineName, line1, line2, latencyMS)
	if job, ok := args.Get(0).(*model.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobService) Close() {
	m.Called()
}
