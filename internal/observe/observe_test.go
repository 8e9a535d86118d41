// File: internal/observe/observe_test.go
package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) PageInfo(ctx context.Context) (schemas.PageInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.PageInfo), args.Error(1)
}

func (m *mockSource) InteractiveElements(ctx context.Context) ([]schemas.Element, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Element), args.Error(1)
}

func newTestObserver(t *testing.T, source PageSource, maxElements int) *Observer {
	t.Helper()
	return New(source, config.EngineConfig{MaxElements: maxElements}, zaptest.NewLogger(t))
}

func TestObserveMergesBothCalls(t *testing.T) {
	source := new(mockSource)
	source.On("PageInfo", mock.Anything).
		Return(schemas.PageInfo{URL: "https://example.com", Title: "Example", ReadyState: "complete"}, nil)
	source.On("InteractiveElements", mock.Anything).
		Return([]schemas.Element{{Tag: "button", Text: "Go"}}, nil)

	obs := newTestObserver(t, source, 30).Observe(context.Background())

	assert.Equal(t, "https://example.com", obs.URL)
	assert.Equal(t, "Example", obs.Title)
	assert.Len(t, obs.Elements, 1)
	assert.False(t, obs.Failed())
	assert.False(t, obs.Blank())
}

func TestObserveRecordsDiagnosticsInsteadOfFailing(t *testing.T) {
	source := new(mockSource)
	source.On("PageInfo", mock.Anything).
		Return(schemas.PageInfo{}, &schemas.Error{Code: schemas.ErrCodeActionTimeout, Message: "getPageInfo did not complete"})
	source.On("InteractiveElements", mock.Anything).
		Return([]schemas.Element{{Tag: "a", Text: "Docs"}}, nil)

	obs := newTestObserver(t, source, 30).Observe(context.Background())

	assert.True(t, obs.Failed())
	assert.Contains(t, obs.Diagnostics, "getPageInfo")
	assert.Len(t, obs.Elements, 1, "the surviving call still contributes")
}

func TestObserveBothCallsFailingYieldsBlankObservation(t *testing.T) {
	source := new(mockSource)
	source.On("PageInfo", mock.Anything).
		Return(schemas.PageInfo{}, &schemas.Error{Code: schemas.ErrCodeNotConnected})
	source.On("InteractiveElements", mock.Anything).
		Return(nil, &schemas.Error{Code: schemas.ErrCodeNotConnected})

	obs := newTestObserver(t, source, 30).Observe(context.Background())

	assert.True(t, obs.Blank())
	assert.Len(t, obs.Diagnostics, 2)
}

func TestObserveCapsElementCount(t *testing.T) {
	elements := make([]schemas.Element, 50)
	for i := range elements {
		elements[i] = schemas.Element{Tag: "a"}
	}
	source := new(mockSource)
	source.On("PageInfo", mock.Anything).Return(schemas.PageInfo{URL: "https://example.com"}, nil)
	source.On("InteractiveElements", mock.Anything).Return(elements, nil)

	obs := newTestObserver(t, source, 30).Observe(context.Background())
	assert.Len(t, obs.Elements, 30)
}
