package mocks

import (
	"context"

	"mrzgate/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Create(ctx context.Context, job *model.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) Update(ctx context.Context, job *model.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) AppendAttempts(ctx context.Context, jobID string, attempts []model.EngineAttempt) error {
	args := m.Called(ctx, jobID, attempts)
	return args.Error(0)
}

func (m *MockJobRepository) FindByID(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

type MockHashIndex struct {
	mock.Mock
}

func (m *MockHashIndex) CheckAndInsert(ctx context.Context, tenantID, passportHash, jobID string) (bool, error) {
	args := m.Called(ctx, tenantID, passportHash, jobID)
	return args.Bool(0), args.Error(1)
}
