package persistence

import (
	"encoding/json"
	"time"

	"taskrelay/internal/identity"
	"taskrelay/internal/logging"
	"taskrelay/internal/taskmodel"
)

const (
	keyTaskHistory      = "taskHistory"
	keyRecentlyUsed     = "recentlyUsedTasks"
	keyStarred          = "starredTasks"
	keyPanelState       = "panelState"
	keyNavigationHist   = "navigationHistory"
	keyExecutionHistory = "executionHistory"
	keyCompletedTasks   = "completedTasks"
	keyFailedTasksLegacy = "failedTasks"
)

// RetentionConfig carries every cap/window size the Persistence Layer
// enforces (spec.md §6 persisted layout): how many durations a task's
// history rolling window keeps, how many entries the recently-used/starred/
// navigation/execution-history lists cap out at.
type RetentionConfig struct {
	DurationWindow       int
	RecentlyUsedCap      int
	StarredCap           int
	NavigationHistoryCap int
	ExecutionHistoryCap  int
}

// DefaultRetentionConfig returns the Layer's built-in retention sizes, for
// callers that build a Layer without a loaded config.Config (tests, demo
// mode).
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		DurationWindow:       10,
		RecentlyUsedCap:      5,
		StarredCap:           20,
		NavigationHistoryCap: 10,
		ExecutionHistoryCap:  20,
	}
}

var log = logging.NewComponentLogger("persistence")

// Layer is the Persistence Layer of spec.md §4.8: a serialized
// read-modify-write surface over two opaque KV stores. Every mutating
// method is enqueued on a single AsyncMutex so concurrent callers never
// interleave a get-full-object/put-full-object cycle.
type Layer struct {
	global    KVStore
	workspace KVStore
	mutex     *AsyncMutex
	retention RetentionConfig
}

// New returns a Layer over the given global and per-workspace stores,
// enforcing the given retention caps.
func New(global, workspace KVStore, retention RetentionConfig) *Layer {
	return &Layer{global: global, workspace: workspace, mutex: NewAsyncMutex(), retention: retention}
}

// Close stops the underlying async mutex, waiting for queued work to drain.
func (l *Layer) Close() { l.mutex.Close() }

func getJSON[T any](store KVStore, key string, out *T) error {
	raw, err := store.Get(key)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

func putJSON(store KVStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(key, raw)
}

// runMutating enqueues fn on the async mutex and waits for it to run,
// logging (never propagating past the caller as a crash) per spec.md §7
// PersistenceFailed: "log inside the mutex chain and continue."
func (l *Layer) runMutating(op string, fn func() error) error {
	err := <-l.mutex.Run(fn)
	if err != nil {
		log.Warn("%s failed: %v", op, err)
	}
	return err
}

// UpdateTaskHistory appends duration to task's rolling window (capped at
// RetentionConfig.DurationWindow, newest-last) and increments its lifetime
// count by exactly 1.
func (l *Layer) UpdateTaskHistory(id identity.TaskID, duration time.Duration) error {
	return l.runMutating("updateTaskHistory", func() error {
		var all map[identity.TaskID]taskmodel.TaskHistory
		if err := getJSON(l.global, keyTaskHistory, &all); err != nil {
			return err
		}
		if all == nil {
			all = make(map[identity.TaskID]taskmodel.TaskHistory)
		}
		h := all[id]
		h.Durations = append(h.Durations, duration)
		if len(h.Durations) > l.retention.DurationWindow {
			h.Durations = h.Durations[len(h.Durations)-l.retention.DurationWindow:]
		}
		h.Count++
		all[id] = h
		return putJSON(l.global, keyTaskHistory, all)
	})
}

// GetTaskHistory is a read-only accessor; readers do not lock (spec.md §4.8).
func (l *Layer) GetTaskHistory(id identity.TaskID) (taskmodel.TaskHistory, bool) {
	var all map[identity.TaskID]taskmodel.TaskHistory
	_ = getJSON(l.global, keyTaskHistory, &all)
	h, ok := all[id]
	return h, ok
}

// SaveCompletedTask persists result under completedTasks[id].
func (l *Layer) SaveCompletedTask(id identity.TaskID, result taskmodel.Result) error {
	return l.runMutating("saveCompletedTask", func() error {
		completed, err := l.loadCompletedTasksLocked()
		if err != nil {
			return err
		}
		completed[id] = result
		return putJSON(l.workspace, keyCompletedTasks, completed)
	})
}

// ClearCompletedTask deletes completedTasks[id]; a no-op if absent.
func (l *Layer) ClearCompletedTask(id identity.TaskID) error {
	return l.runMutating("clearCompletedTask", func() error {
		completed, err := l.loadCompletedTasksLocked()
		if err != nil {
			return err
		}
		delete(completed, id)
		return putJSON(l.workspace, keyCompletedTasks, completed)
	})
}

// GetPersistedCompletedTasks returns every persisted completed-task result,
// performing the legacy failedTasks->completedTasks migration on first
// access if a legacy key is present (spec.md §6 migration rule: existing
// completedTasks wins on key collision, then the legacy key is removed).
func (l *Layer) GetPersistedCompletedTasks() (map[identity.TaskID]taskmodel.Result, error) {
	var result map[identity.TaskID]taskmodel.Result
	err := l.runMutating("getPersistedCompletedTasks", func() error {
		completed, err := l.loadCompletedTasksLocked()
		if err != nil {
			return err
		}
		result = completed
		return nil
	})
	return result, err
}

// loadCompletedTasksLocked reads completedTasks, migrating a legacy
// failedTasks key in if present. Callers must invoke it only from within a
// runMutating closure.
func (l *Layer) loadCompletedTasksLocked() (map[identity.TaskID]taskmodel.Result, error) {
	var completed map[identity.TaskID]taskmodel.Result
	if err := getJSON(l.workspace, keyCompletedTasks, &completed); err != nil {
		return nil, err
	}
	if completed == nil {
		completed = make(map[identity.TaskID]taskmodel.Result)
	}

	legacyRaw, err := l.workspace.Get(keyFailedTasksLegacy)
	if err == ErrNotFound {
		return completed, nil
	}
	if err != nil {
		return nil, err
	}

	var legacy map[identity.TaskID]taskmodel.Result
	if err := json.Unmarshal(legacyRaw, &legacy); err != nil {
		log.Warn("legacy failedTasks key present but unparseable, dropping: %v", err)
		if err := l.workspace.Delete(keyFailedTasksLegacy); err != nil {
			return nil, err
		}
		return completed, nil
	}

	for id, r := range legacy {
		if _, exists := completed[id]; exists {
			continue // existing completedTasks wins on collision
		}
		completed[id] = r
	}
	if err := putJSON(l.workspace, keyCompletedTasks, completed); err != nil {
		return nil, err
	}
	if err := l.workspace.Delete(keyFailedTasksLegacy); err != nil {
		return nil, err
	}
	return completed, nil
}

// DismissCompletedTaskTree deletes completedTasks[id] and, transitively,
// every descendant reachable through each record's Subtasks field.
func (l *Layer) DismissCompletedTaskTree(id identity.TaskID) error {
	return l.runMutating("dismissCompletedTaskTree", func() error {
		completed, err := l.loadCompletedTasksLocked()
		if err != nil {
			return err
		}
		var walk func(identity.TaskID)
		visited := make(map[identity.TaskID]struct{})
		walk = func(cur identity.TaskID) {
			if _, ok := visited[cur]; ok {
				return
			}
			visited[cur] = struct{}{}
			r, ok := completed[cur]
			delete(completed, cur)
			if !ok {
				return
			}
			for _, child := range r.Subtasks {
				walk(child)
			}
		}
		walk(id)
		return putJSON(l.workspace, keyCompletedTasks, completed)
	})
}

// UpdatePanelState merges partial into the persisted panel state and
// returns the merged result.
func (l *Layer) UpdatePanelState(partial map[string]any) (map[string]any, error) {
	var merged map[string]any
	err := l.runMutating("updatePanelState", func() error {
		var state map[string]any
		if err := getJSON(l.global, keyPanelState, &state); err != nil {
			return err
		}
		if state == nil {
			state = make(map[string]any)
		}
		for k, v := range partial {
			state[k] = v
		}
		if err := putJSON(l.global, keyPanelState, state); err != nil {
			return err
		}
		merged = state
		return nil
	})
	return merged, err
}

// GetPanelState is a read-only accessor.
func (l *Layer) GetPanelState() map[string]any {
	var state map[string]any
	_ = getJSON(l.global, keyPanelState, &state)
	return state
}

// ToggleStar flips id's membership in starredTasks (capped at
// RetentionConfig.StarredCap, dropping the oldest entries). Calling it
// twice in a row is a no-op on storage overall (idempotent round trip).
func (l *Layer) ToggleStar(id identity.TaskID) error {
	return l.runMutating("toggleStar", func() error {
		var starred []identity.TaskID
		if err := getJSON(l.global, keyStarred, &starred); err != nil {
			return err
		}
		idx := indexOf(starred, id)
		if idx >= 0 {
			starred = append(starred[:idx], starred[idx+1:]...)
		} else {
			starred = append(starred, id)
			if len(starred) > l.retention.StarredCap {
				starred = starred[len(starred)-l.retention.StarredCap:]
			}
		}
		return putJSON(l.global, keyStarred, starred)
	})
}

// GetStarredTasks is a read-only accessor.
func (l *Layer) GetStarredTasks() []identity.TaskID {
	var starred []identity.TaskID
	_ = getJSON(l.global, keyStarred, &starred)
	return starred
}

// AddRecentlyUsed pushes id to the front of recentlyUsedTasks, deduping any
// prior occurrence and capping at RetentionConfig.RecentlyUsedCap.
func (l *Layer) AddRecentlyUsed(id identity.TaskID) error {
	return l.runMutating("addRecentlyUsed", func() error {
		var recents []identity.TaskID
		if err := getJSON(l.global, keyRecentlyUsed, &recents); err != nil {
			return err
		}
		recents = pushFrontDedup(recents, id, l.retention.RecentlyUsedCap)
		return putJSON(l.global, keyRecentlyUsed, recents)
	})
}

// GetRecentlyUsed is a read-only accessor.
func (l *Layer) GetRecentlyUsed() []identity.TaskID {
	var recents []identity.TaskID
	_ = getJSON(l.global, keyRecentlyUsed, &recents)
	return recents
}

// AddExecutionRecord prepends rec to executionHistory (capped at
// RetentionConfig.ExecutionHistoryCap, newest-first).
func (l *Layer) AddExecutionRecord(rec taskmodel.ExecutionRecord) error {
	return l.runMutating("addExecutionRecord", func() error {
		var history []taskmodel.ExecutionRecord
		if err := getJSON(l.workspace, keyExecutionHistory, &history); err != nil {
			return err
		}
		history = append([]taskmodel.ExecutionRecord{rec}, history...)
		if len(history) > l.retention.ExecutionHistoryCap {
			history = history[:l.retention.ExecutionHistoryCap]
		}
		return putJSON(l.workspace, keyExecutionHistory, history)
	})
}

// GetExecutionHistory is a read-only accessor.
func (l *Layer) GetExecutionHistory() []taskmodel.ExecutionRecord {
	var history []taskmodel.ExecutionRecord
	_ = getJSON(l.workspace, keyExecutionHistory, &history)
	return history
}

type navigationState struct {
	Entries []taskmodel.NavigationEntry `json:"entries"`
	Index   int                         `json:"index"`
}

// Navigate pushes file onto navigationHistory (capped at
// RetentionConfig.NavigationHistoryCap), truncating any
// forward history past the current cursor, and advances the cursor.
func (l *Layer) Navigate(file string) error {
	return l.runMutating("navigate", func() error {
		var nav navigationState
		if err := getJSON(l.workspace, keyNavigationHist, &nav); err != nil {
			return err
		}
		if nav.Index < len(nav.Entries)-1 {
			nav.Entries = nav.Entries[:nav.Index+1]
		}
		nav.Entries = append(nav.Entries, taskmodel.NavigationEntry{File: file})
		if len(nav.Entries) > l.retention.NavigationHistoryCap {
			nav.Entries = nav.Entries[len(nav.Entries)-l.retention.NavigationHistoryCap:]
		}
		nav.Index = len(nav.Entries) - 1
		return putJSON(l.workspace, keyNavigationHist, nav)
	})
}

// NavigateBack moves the cursor back one entry, returning the file now
// current, or ("", false) if already at the start.
func (l *Layer) NavigateBack() (string, bool, error) {
	return l.navigateCursor(-1)
}

// NavigateForward moves the cursor forward one entry.
func (l *Layer) NavigateForward() (string, bool, error) {
	return l.navigateCursor(1)
}

func (l *Layer) navigateCursor(delta int) (string, bool, error) {
	var file string
	var ok bool
	err := l.runMutating("navigateCursor", func() error {
		var nav navigationState
		if err := getJSON(l.workspace, keyNavigationHist, &nav); err != nil {
			return err
		}
		next := nav.Index + delta
		if next < 0 || next >= len(nav.Entries) {
			return nil
		}
		nav.Index = next
		file = nav.Entries[next].File
		ok = true
		return putJSON(l.workspace, keyNavigationHist, nav)
	})
	return file, ok, err
}

// NavigateToHistoryItem jumps the cursor directly to index, truncating
// nothing (the index must already exist).
func (l *Layer) NavigateToHistoryItem(index int) (string, bool, error) {
	var file string
	var ok bool
	err := l.runMutating("navigateToHistoryItem", func() error {
		var nav navigationState
		if err := getJSON(l.workspace, keyNavigationHist, &nav); err != nil {
			return err
		}
		if index < 0 || index >= len(nav.Entries) {
			return nil
		}
		nav.Index = index
		file = nav.Entries[index].File
		ok = true
		return putJSON(l.workspace, keyNavigationHist, nav)
	})
	return file, ok, err
}

// GetNavigationHistory is a read-only accessor.
func (l *Layer) GetNavigationHistory() ([]taskmodel.NavigationEntry, int) {
	var nav navigationState
	_ = getJSON(l.workspace, keyNavigationHist, &nav)
	return nav.Entries, nav.Index
}

func indexOf(ids []identity.TaskID, target identity.TaskID) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

func pushFrontDedup(ids []identity.TaskID, id identity.TaskID, limit int) []identity.TaskID {
	out := make([]identity.TaskID, 0, len(ids)+1)
	out = append(out, id)
	for _, existing := range ids {
		if existing == id {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
