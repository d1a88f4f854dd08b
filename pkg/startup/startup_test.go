package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, needs ...string) Func {
	return Func{
		Name:    name,
		Needs:   needs,
		StartFn: func(context.Context) error { r.events = append(r.events, "start:"+name); return nil },
		StopFn:  func(context.Context) error { r.events = append(r.events, "stop:"+name); return nil },
	}
}

func TestStartup(t *testing.T) {
	t.Run("StartsDependenciesFirstAndStopsInReverse", func(t *testing.T) {
		rec := &recorder{}
		s := NewStartup(testLogger(), 1)
		s.AddDependency(rec.dep("processor", "postgres", "kafka"))
		s.AddDependency(rec.dep("postgres"))
		s.AddDependency(rec.dep("kafka"))

		require.NoError(t, s.Start(context.Background()))
		assert.Equal(t, []string{"start:postgres", "start:kafka", "start:processor"}, rec.events)
		assert.Equal(t, StatusStarted, s.Status("processor"))

		rec.events = nil
		require.NoError(t, s.Stop(context.Background()))
		assert.Equal(t, []string{"stop:processor", "stop:kafka", "stop:postgres"}, rec.events)
		assert.Equal(t, StatusStopped, s.Status("postgres"))
	})

	t.Run("RetriesFailedRound", func(t *testing.T) {
		calls := 0
		s := NewStartup(testLogger(), 3)
		s.backoffUnit = time.Millisecond
		s.AddDependency(Func{Name: "postgres", StartFn: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		}})

		require.NoError(t, s.Start(context.Background()))
		assert.Equal(t, 3, calls)
	})

	t.Run("GivesUpAfterMaxAttempts", func(t *testing.T) {
		boom := errors.New("boom")
		s := NewStartup(testLogger(), 2)
		s.backoffUnit = time.Millisecond
		s.AddDependency(Func{Name: "redis", StartFn: func(context.Context) error { return boom }})

		err := s.Start(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StatusFailed, s.Status("redis"))
	})

	t.Run("UnknownAndCyclicDependencies", func(t *testing.T) {
		s := NewStartup(testLogger(), 1)
		s.AddDependency(Func{Name: "a", Needs: []string{"missing"}})
		assert.ErrorContains(t, s.Start(context.Background()), "unknown dependency 'missing'")

		s = NewStartup(testLogger(), 1)
		s.AddDependency(Func{Name: "a", Needs: []string{"b"}})
		s.AddDependency(Func{Name: "b", Needs: []string{"a"}})
		assert.ErrorContains(t, s.Start(context.Background()), "dependency cycle")
	})
}
