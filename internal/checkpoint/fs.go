package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conductorhq/conductor/pkg/models"
)

// FileStore keeps one JSON file per slot under
// <root>/<userID>/checkpoints/<slot>.json. Writes go through a temp file
// and rename so a crash never leaves a torn checkpoint.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (s *FileStore) dir(userID string) string {
	return filepath.Join(s.root, userID, "checkpoints")
}

func (s *FileStore) path(userID, slot string) string {
	return filepath.Join(s.dir(userID), slot+".json")
}

// Get returns the state in the slot, or nil when absent.
func (s *FileStore) Get(_ context.Context, userID, slot string) (*models.TaskState, error) {
	if !validSlot(slot) || !validSlot(userID) {
		return nil, ErrInvalidSlot
	}
	data, err := os.ReadFile(s.path(userID, slot))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var state models.TaskState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s/%s: %w", userID, slot, err)
	}
	return &state, nil
}

// Put atomically replaces the slot contents.
func (s *FileStore) Put(_ context.Context, userID, slot string, state *models.TaskState) error {
	if !validSlot(slot) || !validSlot(userID) {
		return ErrInvalidSlot
	}
	if err := os.MkdirAll(s.dir(userID), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	target := s.path(userID, slot)
	tmp, err := os.CreateTemp(s.dir(userID), slot+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// List summarizes every slot for the user, newest first.
func (s *FileStore) List(ctx context.Context, userID string) ([]models.CheckpointInfo, error) {
	if !validSlot(userID) {
		return nil, ErrInvalidSlot
	}
	entries, err := os.ReadDir(s.dir(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var infos []models.CheckpointInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		slot := strings.TrimSuffix(name, ".json")
		state, err := s.Get(ctx, userID, slot)
		if err != nil || state == nil {
			continue
		}
		infos = append(infos, infoFor(slot, state))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SavedAt.After(infos[j].SavedAt)
	})
	return infos, nil
}
