package cas

import (
	"context"
	"sync"
)

// BatchRead reads many hashes concurrently, bounded by
// cfg.BatchReadWorkers. Missing blobs are simply absent from the result map
// rather than failing the whole batch.
func (s *Store) BatchRead(ctx context.Context, hashes []string) map[string][]byte {
	results := make(map[string][]byte, len(hashes))
	var mu sync.Mutex

	sem := make(chan struct{}, s.cfg.BatchReadWorkers)
	var wg sync.WaitGroup
	for _, h := range hashes {
		h := h
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			content, err := s.Read(ctx, h)
			if err != nil {
				return
			}
			mu.Lock()
			results[h] = content
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
