package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Koko12137/tasking-community-sub000/internal/config"
	"github.com/Koko12137/tasking-community-sub000/pkg/agent/memoryhooks"
	"github.com/Koko12137/tasking-community-sub000/pkg/memory/vectorstore"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
)

// buildEpisodicHooks opens the pgvector episodic store and wraps it as
// memoryhooks.Hooks for agentType, or returns a zero Hooks and ok=false
// when no vector store DSN was configured. The zero Hooks has a nil Store
// and LLM, so its PreRunOnce/PostRunOnce hooks would panic if wired;
// callers check ok first.
func buildEpisodicHooks(s config.Settings, llm model.Client, agentType string) (memoryhooks.Hooks, bool, error) {
	if s.VectorStoreDSN == "" {
		return memoryhooks.Hooks{}, false, nil
	}
	db, err := sql.Open("postgres", s.VectorStoreDSN)
	if err != nil {
		return memoryhooks.Hooks{}, false, fmt.Errorf("tasking: open vector store: %w", err)
	}
	store, err := vectorstore.New(db, s.ModelName)
	if err != nil {
		return memoryhooks.Hooks{}, false, fmt.Errorf("tasking: build vector store: %w", err)
	}
	return memoryhooks.Hooks{
		Store:     store,
		LLM:       llm,
		AgentType: agentType,
	}, true, nil
}
