package usermap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateIfAbsentRejectsDuplicate(t *testing.T) {
	m := New()
	user := User{Username: "alice"}
	_, err := m.CreateIfAbsent(user, LabSpec{}, Resources{})
	require.NoError(t, err)

	_, err = m.CreateIfAbsent(user, LabSpec{}, Resources{})
	require.Error(t, err)
	require.IsType(t, ErrAlreadyExists{}, err)
}

func TestCreateIfAbsentIsAtomicUnderConcurrency(t *testing.T) {
	m := New()
	user := User{Username: "bob"}
	const attempts = 50
	var wg sync.WaitGroup
	successes := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.CreateIfAbsent(user, LabSpec{}, Resources{})
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one concurrent CreateIfAbsent should succeed")
}

func TestRemoveAbsentUserIsNotFound(t *testing.T) {
	m := New()
	err := m.Remove("nobody")
	require.Error(t, err)
	require.IsType(t, ErrNotFound{}, err)
}

func TestRunningFiltersByStatus(t *testing.T) {
	m := New()
	_, _ = m.CreateIfAbsent(User{Username: "alice"}, LabSpec{}, Resources{})
	_, _ = m.CreateIfAbsent(User{Username: "bob"}, LabSpec{}, Resources{})
	require.NoError(t, m.Mutate("alice", func(r *Record) { r.Status = StatusRunning }))

	require.Equal(t, []string{"alice"}, m.Running())
}
