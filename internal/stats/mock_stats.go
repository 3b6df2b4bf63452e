package stats

import "github.com/stretchr/testify/mock"

type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) RegisterMetric(name, help string) {
	m.Called(name, help)
}
func (m *MockStatsUpdater) RecordMessage(outcome string) {
	m.Called(outcome)
}
