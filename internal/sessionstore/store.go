// Package sessionstore is the durable, file-backed home for Sessions and
// their artifacts. Content is written with a temp-file-then-rename
// pattern so a crash mid-write never leaves a session partially updated.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"deepresearch.app/core/common"
	"deepresearch.app/core/common/id"
	"deepresearch.app/core/internal/research"
)

const sessionFilename = "session.json"

var (
	ErrInvalidSessionPath   = errors.New("invalid session path")
	ErrSessionPathTraversal = errors.New("path traversal not allowed")
)

// CreateRequest is the caller-supplied payload for Store.Create.
type CreateRequest struct {
	Title          string
	Description    string
	Topic          string
	Tags           []string
	ResearchConfig research.ResearchConfig
}

// Patch is a partial update applied by Store.Update; nil fields are left
// untouched.
type Patch struct {
	Title       *string
	Description *string
	Status      *research.SessionStatus
	Tags        []string
}

// Store is the file-backed Session Store. Writes are serialized per
// session_id; the Badger-backed Index gives a cheap list without parsing
// full content blobs, while Get reads one session's content file by id.
type Store struct {
	rootDir string
	index   *Index

	mu     sync.Mutex
	locks  map[int64]*sync.Mutex
}

func New(rootDir string, index *Index) (*Store, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("session store root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session store root directory: %w", err)
	}
	return &Store{rootDir: rootDir, index: index, locks: make(map[int64]*sync.Mutex)}, nil
}

func (s *Store) lockFor(sessionID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Create assigns a new session_id, defaults current_phase per topic
// presence, and persists the session.
func (s *Store) Create(ctx context.Context, req CreateRequest) (research.Session, error) {
	now := time.Now().UTC()

	phase := research.PhaseTopic
	var questions []string
	if req.Topic != "" {
		phase = research.PhaseQuestions
	}

	session := research.Session{
		SessionID:      id.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Title:          req.Title,
		Description:    req.Description,
		Topic:          req.Topic,
		Tags:           slugifyTags(req.Tags),
		Status:         research.SessionActive,
		CurrentPhase:   phase,
		Questions:      questions,
		ResearchConfig: req.ResearchConfig,
	}

	if err := s.writeContent(session); err != nil {
		return research.Session{}, err
	}
	if err := s.index.Put(ctx, research.MetaOf(session)); err != nil {
		return research.Session{}, fmt.Errorf("indexing session: %w", err)
	}

	return session, nil
}

// Get performs an O(1) content lookup, returning ErrSessionNotFound if
// absent.
func (s *Store) Get(ctx context.Context, sessionID int64) (research.Session, error) {
	return s.readContent(sessionID)
}

// Update merges non-nil patch fields, refreshes updated_at, and
// recomputes completion percentage implicitly via CompletionPercentage()
// (never stored ahead of its inputs).
func (s *Store) Update(ctx context.Context, sessionID int64, patch Patch) (research.Session, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.readContent(sessionID)
	if err != nil {
		return research.Session{}, err
	}

	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.Description != nil {
		session.Description = *patch.Description
	}
	if patch.Status != nil {
		session.Status = *patch.Status
	}
	if patch.Tags != nil {
		session.Tags = slugifyTags(patch.Tags)
	}
	session.UpdatedAt = time.Now().UTC()

	if err := s.writeContent(session); err != nil {
		return research.Session{}, err
	}
	if err := s.index.Put(ctx, research.MetaOf(session)); err != nil {
		return research.Session{}, fmt.Errorf("indexing session: %w", err)
	}
	return session, nil
}

// slugifyTags normalizes caller-supplied tags to lowercase, hyphenated slugs
// so List's tag filter can match on a stable form regardless of how a tag
// was typed in. Tags that reduce to nothing (e.g. punctuation-only) are
// dropped rather than stored empty.
func slugifyTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		slug, err := common.Slugify(t, "")
		if err != nil {
			continue
		}
		out = append(out, slug)
	}
	return out
}

// PhasePatch is the privileged update applied by save_phase_state: it sets
// current_phase and merges any subset of the named fields.
type PhasePatch struct {
	Phase          research.Phase
	Topic          *string
	Questions      []string
	Feedback       *string
	ReportPlan     *string
	SearchTasks    []research.SearchTask
	FinalReport    *string
	ResearchConfig *research.ResearchConfig
	TaskID         *int64
}

// SavePhaseState applies a PhasePatch, enforcing forward-only phase
// advance unless the caller is performing an explicit restore via
// RestorePhase, and appends task_id to task_ids if not already present.
func (s *Store) SavePhaseState(ctx context.Context, sessionID int64, patch PhasePatch) (research.Session, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.readContent(sessionID)
	if err != nil {
		return research.Session{}, err
	}

	if !research.Advances(session.CurrentPhase, patch.Phase) {
		return research.Session{}, research.NewError(research.KindValidation,
			fmt.Sprintf("phase %q does not advance from %q", patch.Phase, session.CurrentPhase), nil)
	}
	session.CurrentPhase = patch.Phase

	if patch.Topic != nil {
		session.Topic = *patch.Topic
	}
	if patch.Questions != nil {
		session.Questions = patch.Questions
	}
	if patch.Feedback != nil {
		session.Feedback = *patch.Feedback
	}
	if patch.ReportPlan != nil {
		session.ReportPlan = *patch.ReportPlan
	}
	if patch.SearchTasks != nil {
		session.SearchTasks = patch.SearchTasks
	}
	if patch.FinalReport != nil {
		session.FinalReport = patch.FinalReport
	}
	if patch.ResearchConfig != nil {
		session.ResearchConfig = *patch.ResearchConfig
	}
	if patch.TaskID != nil {
		session.TaskIDs = appendIfMissing(session.TaskIDs, *patch.TaskID)
	}

	session.UpdatedAt = time.Now().UTC()

	if err := s.writeContent(session); err != nil {
		return research.Session{}, err
	}
	if err := s.index.Put(ctx, research.MetaOf(session)); err != nil {
		return research.Session{}, fmt.Errorf("indexing session: %w", err)
	}
	return session, nil
}

// RestorePhase repositions current_phase to any earlier phase (the
// explicit exception to forward-only advance), then returns the
// RestorationData bundle.
func (s *Store) RestorePhase(ctx context.Context, sessionID int64, continueFrom *research.Phase) (research.RestorationData, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.readContent(sessionID)
	if err != nil {
		return research.RestorationData{}, err
	}

	phase := session.CurrentPhase
	if continueFrom != nil {
		phase = *continueFrom
		session.CurrentPhase = phase
		session.UpdatedAt = time.Now().UTC()
		if err := s.writeContent(session); err != nil {
			return research.RestorationData{}, err
		}
		if err := s.index.Put(ctx, research.MetaOf(session)); err != nil {
			return research.RestorationData{}, fmt.Errorf("indexing session: %w", err)
		}
	}

	var currentTaskID *int64
	if len(session.TaskIDs) > 0 {
		last := session.TaskIDs[len(session.TaskIDs)-1]
		currentTaskID = &last
	}

	cfg := session.ResearchConfig
	return research.RestorationData{
		SessionID:      session.SessionID,
		Phase:          phase,
		Topic:          session.Topic,
		Questions:      session.Questions,
		Feedback:       session.Feedback,
		ReportPlan:     session.ReportPlan,
		SearchTasks:    session.SearchTasks,
		FinalReport:    session.FinalReport,
		CurrentTaskID:  currentTaskID,
		ResearchConfig: &cfg,
	}, nil
}

// Delete removes both content and metadata; idempotent.
func (s *Store) Delete(ctx context.Context, sessionID int64) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.contentPath(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session content: %w", err)
	}
	return s.index.Delete(ctx, sessionID)
}

// ListFilter narrows List results.
type ListFilter struct {
	Status *research.SessionStatus
	Tag    *string
	Search *string
}

// List filters and sorts by updated_at descending, backed entirely by the
// metadata index so it never parses N full content blobs.
func (s *Store) List(ctx context.Context, page, pageSize int, filter ListFilter) ([]research.SessionMeta, int, error) {
	all, err := s.index.List(ctx)
	if err != nil {
		return nil, 0, err
	}

	filtered := make([]research.SessionMeta, 0, len(all))
	for _, m := range all {
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.Tag != nil && !containsTag(m.Tags, *filter.Tag) {
			continue
		}
		if filter.Search != nil && *filter.Search != "" {
			needle := strings.ToLower(*filter.Search)
			haystack := strings.ToLower(m.Title + " " + m.Description)
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		filtered = append(filtered, m)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})

	total := len(filtered)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []research.SessionMeta{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

// Cleanup flips active sessions older than daysOld (by updated_at) to
// archived.
func (s *Store) Cleanup(ctx context.Context, daysOld int) (int, error) {
	threshold := time.Now().UTC().Add(-time.Duration(daysOld) * 24 * time.Hour)

	all, err := s.index.List(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range all {
		if m.Status != research.SessionActive {
			continue
		}
		if m.UpdatedAt.After(threshold) {
			continue
		}
		status := research.SessionArchived
		if _, err := s.Update(ctx, m.SessionID, Patch{Status: &status}); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func appendIfMissing(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func (s *Store) contentPath(sessionID int64) (string, error) {
	rel := filepath.Join(strconv.FormatInt(sessionID, 10), sessionFilename)
	if err := s.validatePath(rel); err != nil {
		return "", err
	}
	return filepath.Join(s.rootDir, rel), nil
}

func (s *Store) readContent(sessionID int64) (research.Session, error) {
	path, err := s.contentPath(sessionID)
	if err != nil {
		return research.Session{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return research.Session{}, research.ErrSessionNotFound
		}
		return research.Session{}, fmt.Errorf("reading session: %w", err)
	}

	var session research.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return research.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

// writeContent is the atomic write-to-temp-then-rename used throughout the
// store: a crash mid-write leaves the session at its pre- or post-write
// state, never partial.
func (s *Store) writeContent(session research.Session) error {
	path, err := s.contentPath(session.SessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing temp session: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming session: %w", err)
	}
	return nil
}

func (s *Store) validatePath(path string) error {
	if path == "" {
		return ErrInvalidSessionPath
	}
	if strings.Contains(path, "..") {
		return ErrSessionPathTraversal
	}
	if filepath.IsAbs(path) {
		return ErrSessionPathTraversal
	}
	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "..") {
		return ErrSessionPathTraversal
	}
	return nil
}
