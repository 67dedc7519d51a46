package domain

import "time"

type TaskStatus string

const (
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusInstalled TaskStatus = "installed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskResult is the Run Record entry for one task on one host.
type TaskResult struct {
	Task      string        `json:"task"`
	Host      string        `json:"host"`
	Status    TaskStatus    `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Invocation names a top-level task and its positional arguments.
type Invocation struct {
	Task string   `json:"task"`
	Args []string `json:"args,omitempty"`
}

// HostReport collects the results of one host's run.
type HostReport struct {
	Host    string       `json:"host"`
	Results []TaskResult `json:"results"`
	Error   string       `json:"error,omitempty"`
}

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is an asynchronous deploy started through the API.
type Run struct {
	ID          string       `json:"id"`
	Hosts       []string     `json:"hosts"`
	Invocations []Invocation `json:"invocations"`
	Status      RunStatus    `json:"status"`
	Reports     []HostReport `json:"reports,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type RunEventKind string

const (
	RunEventTaskStarted  RunEventKind = "task_started"
	RunEventTaskFinished RunEventKind = "task_finished"
	RunEventTaskFailed   RunEventKind = "task_failed"
	RunEventStep         RunEventKind = "step"
	RunEventRunFinished  RunEventKind = "run_finished"
)

// RunEvent is a progress notification emitted while tasks execute.
type RunEvent struct {
	Kind    RunEventKind `json:"kind"`
	Host    string       `json:"host"`
	Task    string       `json:"task,omitempty"`
	Step    string       `json:"step,omitempty"`
	Status  TaskStatus   `json:"status,omitempty"`
	Message string       `json:"message,omitempty"`
	Time    time.Time    `json:"time"`
}

// CheckResult is one line of the conformance report.
type CheckResult struct {
	Host     string `json:"host"`
	Command  string `json:"command"`
	Expected string `json:"expected"`
	Output   string `json:"output"`
	OK       bool   `json:"ok"`
}
