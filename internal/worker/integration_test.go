package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/features/job"
	"sibyl/internal/config"
	"sibyl/internal/testutils"
	"sibyl/internal/worker"
)

type resyncCall struct {
	SourceID   string
	URL        string
	MaxPages   int
	Exclusions []string
}

// recordingResyncer succeeds unless the source id matches failFor.
type recordingResyncer struct {
	calls    chan resyncCall
	failFor  string
	failures atomic.Int32
}

func (r *recordingResyncer) Resync(ctx context.Context, sourceID, url string, maxPages int, exclusions []string) error {
	r.calls <- resyncCall{SourceID: sourceID, URL: url, MaxPages: maxPages, Exclusions: exclusions}
	if sourceID == r.failFor {
		r.failures.Add(1)
		return errors.New("crawl failed")
	}
	return nil
}

func TestResyncIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	appCfg := s.GetAppConfig()

	jobRepo := job.NewPostgresRepo(s.DB)
	resyncer := &recordingResyncer{calls: make(chan resyncCall, 4), failFor: "src-bad"}

	nsqCfg := nsq.NewConfig()
	// Shorten the redelivery cycle so the park path finishes inside the test.
	nsqCfg.DefaultRequeueDelay = 250 * time.Millisecond
	nsqCfg.MaxBackoffDuration = time.Second

	consumer, err := nsq.NewConsumer(config.TopicResync, config.ResyncChannel, nsqCfg)
	require.NoError(t, err)
	consumer.AddHandler(worker.NewResyncConsumer(resyncer, jobRepo))

	err = consumer.ConnectToNSQD(appCfg.NSQDHost)
	require.NoError(t, err)
	defer consumer.Stop()

	// 1. Happy path: the task reaches the resyncer with its payload intact.
	payload := worker.ResyncPayload{
		SourceID:   "src-ok",
		URL:        "https://example.com/docs",
		MaxPages:   25,
		Exclusions: []string{"/private/.*"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, s.NSQ.Publish(config.TopicResync, body))

	select {
	case call := <-resyncer.calls:
		assert.Equal(t, "src-ok", call.SourceID)
		assert.Equal(t, "https://example.com/docs", call.URL)
		assert.Equal(t, 25, call.MaxPages)
		assert.Equal(t, []string{"/private/.*"}, call.Exclusions)
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for resync task")
	}

	count, err := jobRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 2. Failure path: requeued once, then parked in failed_jobs.
	badPayload := worker.ResyncPayload{
		SourceID: "src-bad",
		URL:      "https://example.com/broken",
		MaxPages: 10,
	}
	body, err = json.Marshal(badPayload)
	require.NoError(t, err)
	require.NoError(t, s.NSQ.Publish(config.TopicResync, body))

	require.Eventually(t, func() bool {
		n, err := jobRepo.Count(ctx)
		return err == nil && n == 1
	}, 15*time.Second, 200*time.Millisecond, "Failed resync should be parked in failed_jobs")

	assert.Equal(t, int32(worker.MaxAttempts), resyncer.failures.Load())

	jobs, err := jobRepo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "src-bad", jobs[0].SourceID)
	assert.Equal(t, "resync", jobs[0].Task)
	assert.Equal(t, "crawl failed", jobs[0].Error)

	// The parked payload must be republishable as-is.
	var parked worker.ResyncPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &parked))
	assert.Equal(t, "https://example.com/broken", parked.URL)
	assert.Equal(t, 10, parked.MaxPages)
}
