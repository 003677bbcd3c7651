package token

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Length(t *testing.T) {
	assert.Len(t, EmailID(), IDBytes*2)
	assert.Len(t, ConfirmationKey(), IDBytes*2)
	assert.Len(t, Secret(), SecretBytes*2)
}

func TestNew_ConcurrentUniqueness(t *testing.T) {
	const workers = 16
	const perWorker = 2000

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker*2)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker*2)
			for i := 0; i < perWorker; i++ {
				local = append(local, EmailID(), ConfirmationKey())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker*2)
}
