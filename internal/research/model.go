// Package research holds the data model shared by the pipeline engine,
// task registry, broadcaster, session store and search aggregator.
package research

import "time"

// SessionStatus is the lifecycle state of a durable Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
	SessionFailed    SessionStatus = "failed"
)

// Phase is one of the deterministic stages of the pipeline.
type Phase string

const (
	PhaseTopic     Phase = "topic"
	PhaseQuestions Phase = "questions"
	PhaseFeedback  Phase = "feedback"
	PhaseResearch  Phase = "research"
	PhaseReport    Phase = "report"
	PhaseCompleted Phase = "completed"
)

// phaseOrder fixes the forward ordering phases advance through.
var phaseOrder = map[Phase]int{
	PhaseTopic:     0,
	PhaseQuestions: 1,
	PhaseFeedback:  2,
	PhaseResearch:  3,
	PhaseReport:    4,
	PhaseCompleted: 5,
}

// Advances reports whether moving from 'from' to 'to' is a forward
// advance in phase order (or a no-op). A restore may reposition the phase
// to any earlier value and is not subject to this check.
func Advances(from, to Phase) bool {
	return phaseOrder[to] >= phaseOrder[from]
}

// SearchTaskState is the lifecycle state of one EXECUTE sub-query.
type SearchTaskState string

const (
	SearchPending   SearchTaskState = "pending"
	SearchRunning   SearchTaskState = "running"
	SearchCompleted SearchTaskState = "completed"
	SearchFailed    SearchTaskState = "failed"
)

// Image is a media result attached to a SearchTask.
type Image struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// Source is one retrieved document backing a SearchTask's learning.
type Source struct {
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Content       string     `json:"content"`
	Score         float64    `json:"score"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Image         *Image     `json:"image,omitempty"`
}

// SearchTask is one element of the EXECUTE phase: a single query, its
// sources, and the task model's synthesized learning.
type SearchTask struct {
	Query        string          `json:"query"`
	ResearchGoal string          `json:"research_goal"`
	State        SearchTaskState `json:"state"`
	Learning     string          `json:"learning"`
	Sources      []Source        `json:"sources"`
	Images       []Image         `json:"images"`
}

// ModelsConfig names the thinking and task model deployments for a request.
type ModelsConfig struct {
	Thinking string `json:"thinking"`
	Task     string `json:"task"`
}

// ResearchDepth controls how exhaustive the execute phase is.
type ResearchDepth string

const (
	DepthQuick    ResearchDepth = "quick"
	DepthStandard ResearchDepth = "standard"
	DepthDeep     ResearchDepth = "deep"
)

// ExecutionMode selects which engine drives the phase.
type ExecutionMode string

const (
	ModeAuto   ExecutionMode = "auto"
	ModeAgents ExecutionMode = "agents"
	ModeDirect ExecutionMode = "direct"
)

// Language is the set of languages the pipeline will write in.
type Language string

const (
	LangEN Language = "en"
	LangES Language = "es"
	LangFR Language = "fr"
	LangDE Language = "de"
	LangIT Language = "it"
	LangPT Language = "pt"
	LangRU Language = "ru"
	LangZH Language = "zh"
	LangJA Language = "ja"
	LangKO Language = "ko"
)

var validLanguages = map[Language]bool{
	LangEN: true, LangES: true, LangFR: true, LangDE: true, LangIT: true,
	LangPT: true, LangRU: true, LangZH: true, LangJA: true, LangKO: true,
}

// ValidLanguage reports whether lang is one of the supported codes.
func ValidLanguage(lang Language) bool {
	return validLanguages[lang]
}

// ResearchConfig is the bundle fixed at task start and carried forward in
// the Session for the life of the investigation.
type ResearchConfig struct {
	ModelsConfig    ModelsConfig  `json:"models_config"`
	EnableWebSearch bool          `json:"enable_web_search"`
	MaxSearchResults int          `json:"max_search_results"`
	ResearchDepth   ResearchDepth `json:"research_depth"`
	Language        Language      `json:"language"`
	OutputFormat    string        `json:"output_format"`
	ExecutionMode   ExecutionMode `json:"execution_mode"`
}

// Session is the durable unit spanning every phase of one research
// investigation.
type Session struct {
	SessionID   int64     `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Title       string        `json:"title"`
	Description string        `json:"description"`
	Topic       string        `json:"topic"`
	Tags        []string      `json:"tags"`
	Status      SessionStatus `json:"status"`
	CurrentPhase Phase        `json:"current_phase"`

	Questions  []string     `json:"questions"`
	Feedback   string       `json:"feedback"`
	ReportPlan string       `json:"report_plan"`
	SearchTasks []SearchTask `json:"search_tasks"`
	FinalReport *string     `json:"final_report"`

	ResearchConfig ResearchConfig `json:"research_config"`
	TaskIDs        []int64        `json:"task_ids"`
}

// CompletionPercentage is a pure function of current phase and artifact
// presence — never stored ahead of its inputs, always recomputed.
func (s Session) CompletionPercentage() int {
	switch s.CurrentPhase {
	case PhaseCompleted:
		return 100
	case PhaseReport:
		if s.FinalReport != nil {
			return 100
		}
		return 80
	case PhaseResearch:
		if len(s.SearchTasks) > 0 {
			return 60
		}
		return 45
	case PhaseFeedback:
		return 35
	case PhaseQuestions:
		if len(s.Questions) > 0 {
			return 20
		}
		return 10
	case PhaseTopic:
		if s.Topic != "" {
			return 5
		}
		return 0
	default:
		return 0
	}
}

// TaskStatus is the lifecycle state of a volatile Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is the in-memory record for one active phase execution, owned by the
// Task Registry and mutated only by its worker.
type Task struct {
	TaskID              int64      `json:"task_id"`
	SessionID           *int64     `json:"session_id,omitempty"`
	Status              TaskStatus `json:"status"`
	Progress            int        `json:"progress"`
	CurrentStep         string     `json:"current_step"`
	StartedAt           time.Time  `json:"started_at"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	TokensUsed          int        `json:"tokens_used"`
	SourcesFound        int        `json:"sources_found"`
	SearchQueriesMade    int        `json:"search_queries_made"`
	Report              string     `json:"report"`
	Cancelled           bool       `json:"-"`
}

// FrameType is the kind of a ProgressFrame.
type FrameType string

const (
	FrameConnection FrameType = "connection"
	FrameWaiting    FrameType = "waiting"
	FrameProgress   FrameType = "progress"
	FrameCompleted  FrameType = "completed"
	FrameError      FrameType = "error"
)

// IsTerminal reports whether a frame of this type ends a subscriber stream.
func (t FrameType) IsTerminal() bool {
	return t == FrameCompleted || t == FrameError
}

// ProgressFrame is an immutable message published by the Task Registry and
// forwarded to subscribers by the Broadcaster.
type ProgressFrame struct {
	Type      FrameType      `json:"type"`
	TaskID    int64          `json:"task_id"`
	Payload   map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// SnapshotFrame builds a frame of type typ whose payload is a Task snapshot.
func SnapshotFrame(t Task, typ FrameType) ProgressFrame {
	payload := map[string]any{
		"status":             t.Status,
		"progress_percentage": t.Progress,
		"current_step":       t.CurrentStep,
		"tokens_used":        t.TokensUsed,
		"sources_found":      t.SourcesFound,
	}
	if t.EstimatedCompletion != nil {
		payload["estimated_completion"] = *t.EstimatedCompletion
	}
	return ProgressFrame{
		Type:      typ,
		TaskID:    t.TaskID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// SessionMeta is the cheap projection used for listing, kept separate from
// full session content so list() never parses N full blobs.
type SessionMeta struct {
	SessionID    int64         `json:"session_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       SessionStatus `json:"status"`
	CurrentPhase Phase         `json:"current_phase"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Tags         []string      `json:"tags"`
}

func MetaOf(s Session) SessionMeta {
	return SessionMeta{
		SessionID:    s.SessionID,
		Title:        s.Title,
		Description:  s.Description,
		Status:       s.Status,
		CurrentPhase: s.CurrentPhase,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Tags:         s.Tags,
	}
}

// AggregatedFinding is one element of EXECUTE's structured artifact array.
type AggregatedFinding struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"research_goal"`
	Findings     string `json:"findings"`
	QueryNumber  int    `json:"query_number"`
	SourcesCount *int   `json:"sources_count,omitempty"`
}

// RestorationData is the bundle returned by Session Store restore(),
// containing exactly the fields needed to re-enter the pipeline.
type RestorationData struct {
	SessionID      int64          `json:"session_id"`
	Phase          Phase          `json:"phase"`
	Topic          string         `json:"topic"`
	Questions      []string       `json:"questions"`
	Feedback       string         `json:"feedback"`
	ReportPlan     string         `json:"reportPlan"`
	SearchTasks    []SearchTask   `json:"searchTasks"`
	FinalReport    *string        `json:"finalReport"`
	CurrentTaskID  *int64         `json:"currentTaskId,omitempty"`
	ResearchConfig *ResearchConfig `json:"researchConfig,omitempty"`
}
