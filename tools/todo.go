package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/martinemde/coderoute/agentloop"
)

// TodoFileName is the journal file of todowritetool.
const TodoFileName = ".code_route_todos.json"

// Todo statuses and priorities.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

var (
	todoStatuses   = []string{TodoPending, TodoInProgress, TodoCompleted}
	todoPriorities = []string{"high", "medium", "low"}
)

// Todo operations.
const (
	TodoCreateList   = "create_list"
	TodoAddTask      = "add_task"
	TodoUpdateStatus = "update_status"
	TodoRemoveTask   = "remove_task"
	TodoGetList      = "get_list"
	TodoClearAll     = "clear_all"
)

// Task is one journal entry.
type Task struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

func (t Task) validate(n int) []string {
	var errs []string
	for field, v := range map[string]string{"id": t.ID, "content": t.Content, "status": t.Status, "priority": t.Priority} {
		if v == "" {
			errs = append(errs, fmt.Sprintf("Todo %d: Missing required field %q", n, field))
		}
	}
	sort.Strings(errs)
	if t.Status != "" && !slices.Contains(todoStatuses, t.Status) {
		errs = append(errs, fmt.Sprintf("Todo %d: Invalid status %q", n, t.Status))
	}
	if t.Priority != "" && !slices.Contains(todoPriorities, t.Priority) {
		errs = append(errs, fmt.Sprintf("Todo %d: Invalid priority %q", n, t.Priority))
	}
	return errs
}

// TodoWriter is a persistent todo list. It owns its journal file; the file
// is rewritten atomically after every change.
type TodoWriter struct {
	path  string
	mu    sync.Mutex
	tasks map[string]Task
}

// NewTodoWriter opens the journal at path. A missing or unreadable journal
// starts an empty list.
func NewTodoWriter(path string) (*TodoWriter, error) {
	if path == "" {
		return nil, errors.New("todo journal path is empty")
	}
	t := &TodoWriter{path: path, tasks: map[string]Task{}}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &t.tasks); err != nil || t.tasks == nil {
			t.tasks = map[string]Task{}
		}
	}
	return t, nil
}

func (t *TodoWriter) Name() string { return "todowritetool" }

func (t *TodoWriter) Description() string {
	return `Manages a persistent todo list for tracking complex tasks.

Operations: create_list, add_task, update_status, remove_task, get_list, clear_all.
State persists across tool calls; there is no need to resend the entire list.`
}

func (t *TodoWriter) Schema() map[string]any {
	status := enumProp("Task status", todoStatuses...)
	priority := enumProp("Task priority", todoPriorities...)
	return object([]string{"operation"}, map[string]any{
		"operation": enumProp("Operation to perform",
			TodoCreateList, TodoAddTask, TodoUpdateStatus, TodoRemoveTask, TodoGetList, TodoClearAll),
		"todos": arrayProp("Initial todo list (only for create_list operation)",
			object([]string{"content", "status", "priority", "id"}, map[string]any{
				"content": prop("string", "Task description"), "status": status, "priority": priority, "id": prop("string", "Task id"),
			})),
		"task_id":    prop("string", "Task ID for update_status, remove_task operations"),
		"new_status": enumProp("New status for update_status operation", todoStatuses...),
		"task": object([]string{"content", "priority", "id"}, map[string]any{
			"content": prop("string", "Task description"), "priority": priority, "id": prop("string", "Task id"),
		}),
	})
}

func (t *TodoWriter) Execute(ctx context.Context, args map[string]any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch op := agentloop.StringArgOr(args, "operation", ""); op {
	case TodoCreateList:
		raw, _ := agentloop.ObjectSliceArg(args, "todos")
		return t.createList(raw)
	case TodoAddTask:
		task, _ := args["task"].(map[string]any)
		return t.addTask(task)
	case TodoUpdateStatus:
		return t.updateStatus(agentloop.StringArgOr(args, "task_id", ""), agentloop.StringArgOr(args, "new_status", ""))
	case TodoRemoveTask:
		return t.removeTask(agentloop.StringArgOr(args, "task_id", ""))
	case TodoGetList:
		return t.render(), nil
	case TodoClearAll:
		n := len(t.tasks)
		t.tasks = map[string]Task{}
		if err := t.save(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Cleared %d tasks from todo list", n), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

// Tasks returns the current list in display order.
func (t *TodoWriter) Tasks() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ordered()
}

func taskFrom(m map[string]any) Task {
	return Task{
		ID:       agentloop.StringArgOr(m, "id", ""),
		Content:  agentloop.StringArgOr(m, "content", ""),
		Status:   agentloop.StringArgOr(m, "status", ""),
		Priority: agentloop.StringArgOr(m, "priority", ""),
	}
}

func (t *TodoWriter) createList(raw []map[string]any) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("no todos provided for create_list")
	}
	tasks := map[string]Task{}
	var errs []string
	for i, m := range raw {
		task := taskFrom(m)
		errs = append(errs, task.validate(i+1)...)
		tasks[task.ID] = task
	}
	if len(errs) > 0 {
		return "Validation errors:\n" + strings.Join(errs, "\n"), nil
	}
	t.tasks = tasks
	if err := t.save(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created todo list with %d tasks", len(raw)), nil
}

func (t *TodoWriter) addTask(m map[string]any) (string, error) {
	if m == nil {
		return "", errors.New("no task provided")
	}
	task := taskFrom(m)
	if task.ID == "" {
		return "", errors.New("task missing required id field")
	}
	if _, ok := t.tasks[task.ID]; ok {
		return "", fmt.Errorf("task with ID %q already exists", task.ID)
	}
	task.Status = TodoPending
	if errs := task.validate(1); len(errs) > 0 {
		return "Validation error: " + errs[0], nil
	}
	t.tasks[task.ID] = task
	if err := t.save(); err != nil {
		return "", err
	}
	return "Added task: " + task.Content, nil
}

func (t *TodoWriter) updateStatus(id, status string) (string, error) {
	switch {
	case id == "":
		return "", errors.New("no task_id provided")
	case status == "":
		return "", errors.New("no new_status provided")
	case !slices.Contains(todoStatuses, status):
		return "", fmt.Errorf("invalid status %q", status)
	}
	task, ok := t.tasks[id]
	if !ok {
		return "", fmt.Errorf("task %q not found", id)
	}
	old := task.Status
	task.Status = status
	t.tasks[id] = task
	if err := t.save(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %q: %s → %s", id, old, status), nil
}

func (t *TodoWriter) removeTask(id string) (string, error) {
	if id == "" {
		return "", errors.New("no task_id provided")
	}
	task, ok := t.tasks[id]
	if !ok {
		return "", fmt.Errorf("task %q not found", id)
	}
	delete(t.tasks, id)
	if err := t.save(); err != nil {
		return "", err
	}
	return "Removed task: " + task.Content, nil
}

// ordered sorts by priority and then id.
func (t *TodoWriter) ordered() []Task {
	out := make([]Task, 0, len(t.tasks))
	for _, id := range sortedKeys(t.tasks) {
		out = append(out, t.tasks[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return slices.Index(todoPriorities, out[i].Priority) < slices.Index(todoPriorities, out[j].Priority)
	})
	return out
}

var priorityIcons = map[string]string{"high": "🔴", "medium": "🟡", "low": "🟢"}

func (t *TodoWriter) render() string {
	if len(t.tasks) == 0 {
		return "Todo list is empty"
	}
	tasks := t.ordered()
	lines := []string{"📋 **Current Todo List**", ""}
	section := func(title, status string, line func(Task) string) {
		var items []string
		for _, task := range tasks {
			if task.Status == status {
				items = append(items, line(task))
			}
		}
		if len(items) > 0 {
			lines = append(lines, title)
			lines = append(lines, items...)
			lines = append(lines, "")
		}
	}
	pending := func(task Task) string {
		icon, ok := priorityIcons[task.Priority]
		if !ok {
			icon = "⚪"
		}
		return fmt.Sprintf("  %s %s (ID: %s)", icon, task.Content, task.ID)
	}
	section("🚀 **In Progress:**", TodoInProgress, pending)
	section("⏳ **Pending:**", TodoPending, pending)
	section("✅ **Completed:**", TodoCompleted, func(task Task) string {
		return fmt.Sprintf("  ✓ %s (ID: %s)", task.Content, task.ID)
	})
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func (t *TodoWriter) save() error {
	data, err := json.MarshalIndent(t.tasks, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".*")
	if err != nil {
		return fmt.Errorf("save todos: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("save todos: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save todos: %w", err)
	}
	return os.Rename(tmp.Name(), t.path)
}
