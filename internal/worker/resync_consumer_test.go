package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sibyl/features/job"
	"sibyl/internal/worker"
)

type MockResyncer struct{ mock.Mock }

func (m *MockResyncer) Resync(ctx context.Context, sourceID, url string, maxPages int, exclusions []string) error {
	args := m.Called(ctx, sourceID, url, maxPages, exclusions)
	return args.Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockJobRepo) List(ctx context.Context) ([]job.Job, error)          { return nil, nil }
func (m *MockJobRepo) Get(ctx context.Context, id string) (*job.Job, error) { return nil, nil }
func (m *MockJobRepo) Delete(ctx context.Context, id string) error          { return nil }
func (m *MockJobRepo) Count(ctx context.Context) (int, error)               { return 0, nil }

func resyncMessage(t *testing.T, payload worker.ResyncPayload, attempts uint16) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	msg := &nsq.Message{
		Body:      body,
		ID:        nsq.MessageID{'1', '2', '3', '4', '5', '6', '7', '8', '9', '0', 'a', 'b', 'c', 'd', 'e', 'f'},
		Timestamp: time.Now().UnixNano(),
	}
	msg.Attempts = attempts
	return msg
}

func TestResyncConsumer_Success(t *testing.T) {
	r := new(MockResyncer)
	jobs := new(MockJobRepo)
	r.On("Resync", mock.Anything, "src-1", "https://example.com", 10, []string{"/private/.*"}).Return(nil)

	h := worker.NewResyncConsumer(r, jobs)
	err := h.HandleMessage(resyncMessage(t, worker.ResyncPayload{
		SourceID:   "src-1",
		URL:        "https://example.com",
		MaxPages:   10,
		Exclusions: []string{"/private/.*"},
	}, 1))

	assert.NoError(t, err)
	r.AssertExpectations(t)
	jobs.AssertNotCalled(t, "Save")
}

func TestResyncConsumer_PoisonPill(t *testing.T) {
	r := new(MockResyncer)
	jobs := new(MockJobRepo)
	h := worker.NewResyncConsumer(r, jobs)

	msg := resyncMessage(t, worker.ResyncPayload{}, 1)
	msg.Body = []byte("{not json")

	// Invalid JSON must not requeue forever.
	assert.NoError(t, h.HandleMessage(msg))
	r.AssertNotCalled(t, "Resync")
}

func TestResyncConsumer_MissingFieldsDropped(t *testing.T) {
	r := new(MockResyncer)
	jobs := new(MockJobRepo)
	h := worker.NewResyncConsumer(r, jobs)

	err := h.HandleMessage(resyncMessage(t, worker.ResyncPayload{URL: "https://example.com"}, 1))
	assert.NoError(t, err)
	r.AssertNotCalled(t, "Resync")
	jobs.AssertNotCalled(t, "Save")
}

func TestResyncConsumer_FirstFailureRequeues(t *testing.T) {
	r := new(MockResyncer)
	jobs := new(MockJobRepo)
	r.On("Resync", mock.Anything, "src-1", "https://example.com", 5, []string(nil)).
		Return(errors.New("crawl failed"))

	h := worker.NewResyncConsumer(r, jobs)
	err := h.HandleMessage(resyncMessage(t, worker.ResyncPayload{
		SourceID: "src-1",
		URL:      "https://example.com",
		MaxPages: 5,
	}, 1))

	assert.Error(t, err, "first failure returns the error so NSQ requeues")
	jobs.AssertNotCalled(t, "Save")
}

func TestResyncConsumer_FinalFailureParksJob(t *testing.T) {
	r := new(MockResyncer)
	jobs := new(MockJobRepo)
	r.On("Resync", mock.Anything, "src-1", "https://example.com", 5, []string(nil)).
		Return(errors.New("crawl failed"))
	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		var payload worker.ResyncPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return false
		}
		return j.SourceID == "src-1" &&
			j.Task == "resync" &&
			j.Error == "crawl failed" &&
			payload.URL == "https://example.com"
	})).Return(nil)

	h := worker.NewResyncConsumer(r, jobs)
	err := h.HandleMessage(resyncMessage(t, worker.ResyncPayload{
		SourceID: "src-1",
		URL:      "https://example.com",
		MaxPages: 5,
	}, worker.MaxAttempts))

	assert.NoError(t, err, "exhausted attempts finish the message")
	jobs.AssertExpectations(t)
}

func TestResyncConsumer_DeadLetterSaveFailureStillFinishes(t *testing.T) {
	r := new(MockResyncer)
	jobs := new(MockJobRepo)
	r.On("Resync", mock.Anything, "src-1", "https://example.com", 5, []string(nil)).
		Return(errors.New("crawl failed"))
	jobs.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))

	h := worker.NewResyncConsumer(r, jobs)
	err := h.HandleMessage(resyncMessage(t, worker.ResyncPayload{
		SourceID: "src-1",
		URL:      "https://example.com",
		MaxPages: 5,
	}, worker.MaxAttempts))

	assert.NoError(t, err, "a broken dead-letter store must not loop the message")
}

func TestResyncConsumer_EmptyBody(t *testing.T) {
	h := worker.NewResyncConsumer(new(MockResyncer), new(MockJobRepo))
	msg := resyncMessage(t, worker.ResyncPayload{}, 1)
	msg.Body = nil
	assert.NoError(t, h.HandleMessage(msg))
}
