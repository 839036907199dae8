// Package checkpoint persists task state so a task survives host restarts.
// Two backends exist: a filesystem store laid out per user, and a SQLite
// store for single-file deployments.
package checkpoint

import (
	"context"
	"errors"
	"strings"

	"github.com/conductorhq/conductor/pkg/models"
)

// SlotLatest is reserved for the processor's own iteration-boundary saves.
// User-named saves use any other slot.
const SlotLatest = "latest"

// ErrInvalidSlot rejects slot names that would escape the store layout.
var ErrInvalidSlot = errors.New("invalid checkpoint slot")

// Store persists and recalls task state per user and slot.
type Store interface {
	// Get returns the state in the slot, or nil when the slot is empty.
	Get(ctx context.Context, userID, slot string) (*models.TaskState, error)

	// Put overwrites the slot with the given state.
	Put(ctx context.Context, userID, slot string, state *models.TaskState) error

	// List summarizes every saved slot for the user.
	List(ctx context.Context, userID string) ([]models.CheckpointInfo, error)
}

// validSlot rejects empty names and path metacharacters.
func validSlot(slot string) bool {
	if slot == "" || len(slot) > 64 {
		return false
	}
	return !strings.ContainsAny(slot, "/\\. \t\n")
}

// taskPrompt extracts the original user turn for checkpoint listings.
func taskPrompt(state *models.TaskState) string {
	for _, m := range state.Messages {
		if m.Role == models.RoleUser {
			text := m.TextContent()
			if len(text) > 120 {
				text = text[:120]
			}
			return text
		}
	}
	return ""
}

func infoFor(slot string, state *models.TaskState) models.CheckpointInfo {
	return models.CheckpointInfo{
		Slot:       slot,
		SavedAt:    state.LastUpdate,
		Iterations: state.Iterations,
		ToolsUsed:  state.ToolsUsed,
		Completed:  state.Status == models.StatusCompleted,
		TaskPrompt: taskPrompt(state),
		ModelAlias: state.ModelAlias,
	}
}
