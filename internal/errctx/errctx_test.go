package errctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOverwrites(t *testing.T) {
	Clear()

	Set(22, "first failure")
	assert.Equal(t, 22, ProviderErrno())
	assert.Equal(t, "first failure", Message())

	Set(0, "second failure")
	assert.Zero(t, ProviderErrno())
	assert.Equal(t, "second failure", Message())
}

func TestClear(t *testing.T) {
	Set(107, "stale")
	Clear()

	assert.Zero(t, ProviderErrno())
	assert.Empty(t, Message())
}

func TestRecordsAreGoroutineScoped(t *testing.T) {
	Clear()
	Set(111, "mine")

	done := make(chan struct{})

	go func() {
		defer close(done)

		// A fresh goroutine starts with an empty record.
		assert.Zero(t, ProviderErrno())
		assert.Empty(t, Message())

		Set(32, "theirs")
		assert.Equal(t, 32, ProviderErrno())
	}()

	<-done

	// The other goroutine's record never leaks into this one.
	require.Equal(t, 111, ProviderErrno())
	require.Equal(t, "mine", Message())
}

func TestConcurrentWriters(t *testing.T) {
	done := make(chan struct{})

	for i := 0; i < 100; i++ {
		go func(n int) {
			Set(n, "worker failure")
			assert.Equal(t, n, ProviderErrno())
			Clear()

			done <- struct{}{}
		}(i)
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}
