package gemini

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// clientPool caches one genai client per API key. The key lives in runtime
// settings and can change between calls; a rotation swaps the client without
// a process restart.
type clientPool struct {
	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
	opts       []option.ClientOption
}

func newClientPool(opts ...option.ClientOption) *clientPool {
	return &clientPool{opts: opts}
}

func (p *clientPool) get(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.RLock()
	if p.client != nil && p.currentKey == key {
		defer p.mu.RUnlock()
		return p.client, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check
	if p.client != nil && p.currentKey == key {
		return p.client, nil
	}

	if p.client != nil {
		if err := p.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(p.opts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	p.client = client
	p.currentKey = key
	return client, nil
}

func (p *clientPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	p.currentKey = ""
	return err
}
