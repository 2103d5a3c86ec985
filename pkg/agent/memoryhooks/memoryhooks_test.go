package memoryhooks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/agent"
	"github.com/Koko12137/tasking-community-sub000/pkg/agent/memoryhooks"
	"github.com/Koko12137/tasking-community-sub000/pkg/fsm"
	"github.com/Koko12137/tasking-community-sub000/pkg/memory"
	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
	"github.com/Koko12137/tasking-community-sub000/pkg/task"
)

type stage string

const (
	thinking stage = "THINKING"
	done     stage = "FINISHED"
)

type stageEvent string

const evDone stageEvent = "DONE"

func newTestTask(t *testing.T) task.Handle {
	t.Helper()
	table := map[fsm.Key[stage, stageEvent]]fsm.Transition[stage, stageEvent]{
		fsm.NewTransitionKey(thinking, evDone): {To: done},
	}
	tk, err := task.New[stage, stageEvent]([]stage{thinking, done}, thinking, table, "test", nil, nil)
	require.NoError(t, err)
	tk.SetInput([]message.Block{message.TextBlock{Text: "find the bug"}})
	return tk
}

type fakeStore struct {
	searchResults []memory.ScoredEpisode
	searchErr     error
	upserted      []memory.Episode
	upsertErr     error
}

func (s *fakeStore) UpsertEpisode(ctx context.Context, ep memory.Episode, embedding []float64) (memory.Episode, error) {
	if s.upsertErr != nil {
		return memory.Episode{}, s.upsertErr
	}
	s.upserted = append(s.upserted, ep)
	return ep, nil
}

func (s *fakeStore) Search(ctx context.Context, opts memory.VectorSearchOptions) ([]memory.ScoredEpisode, error) {
	return s.searchResults, s.searchErr
}

func (s *fakeStore) Delete(ctx context.Context, episodeID string) error { return nil }

type fakeLLM struct {
	embedding    []float64
	completeResp message.Message
}

func (f *fakeLLM) Complete(ctx context.Context, req model.Request) (message.Message, error) {
	return f.completeResp, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req model.Request, sink *queue.Queue[message.Message]) (message.Message, error) {
	return message.Message{}, nil
}

func (f *fakeLLM) Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error) {
	return f.embedding, nil
}

func (f *fakeLLM) EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error) {
	return nil, nil
}

func TestPreRunOnceAppendsRecalledEpisodes(t *testing.T) {
	tk := newTestTask(t)
	store := &fakeStore{searchResults: []memory.ScoredEpisode{
		{Episode: memory.Episode{ID: "ep-1", Summary: "tried X, fixed it", CreatedAt: time.Now()}, Score: 0.9},
	}}
	llm := &fakeLLM{embedding: []float64{0.1, 0.2}}
	hooks := memoryhooks.Hooks{Store: store, LLM: llm, AgentType: "executor"}

	outcome, err := hooks.PreRunOnce().Invoke(context.Background(), agent.HookArgs{Task: tk})
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeContinue, outcome.Kind)

	msgs := tk.GetContext().Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text(), "ep-1")
	assert.Contains(t, msgs[0].Text(), "tried X, fixed it")
}

func TestPreRunOnceSkipsWhenNoResults(t *testing.T) {
	tk := newTestTask(t)
	store := &fakeStore{}
	llm := &fakeLLM{embedding: []float64{0.1}}
	hooks := memoryhooks.Hooks{Store: store, LLM: llm}

	_, err := hooks.PreRunOnce().Invoke(context.Background(), agent.HookArgs{Task: tk})
	require.NoError(t, err)
	assert.Empty(t, tk.GetContext().Messages())
}

func TestPostRunOnceStoresCompressedEpisode(t *testing.T) {
	tk := newTestTask(t)
	require.NoError(t, tk.AppendContext(message.Message{
		Role:    message.RoleUser,
		Content: []message.Block{message.TextBlock{Text: "investigate the crash"}},
	}))
	store := &fakeStore{}
	llm := &fakeLLM{
		embedding:    []float64{0.3},
		completeResp: message.Message{Role: message.RoleAssistant, Content: []message.Block{message.TextBlock{Text: "root cause was a nil pointer"}}},
	}
	hooks := memoryhooks.Hooks{Store: store, LLM: llm, AgentType: "executor"}

	_, err := hooks.PostRunOnce().Invoke(context.Background(), agent.HookArgs{Task: tk})
	require.NoError(t, err)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, tk.GetUID(), store.upserted[0].ID)
	assert.Equal(t, "root cause was a nil pointer", store.upserted[0].Summary)
	assert.Equal(t, "executor", store.upserted[0].AgentType)
}

func TestPostRunOnceSkipsEmptyContext(t *testing.T) {
	tk := newTestTask(t)
	store := &fakeStore{}
	llm := &fakeLLM{}
	hooks := memoryhooks.Hooks{Store: store, LLM: llm}

	_, err := hooks.PostRunOnce().Invoke(context.Background(), agent.HookArgs{Task: tk})
	require.NoError(t, err)
	assert.Empty(t, store.upserted)
}
