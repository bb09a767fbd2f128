package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/coderoute/agentloop"
)

var agentTaskTypes = []string{"code_analysis", "implementation", "debugging", "research", "refactoring", "testing"}

var executionSteps = map[string][]string{
	"code_analysis": {
		"Read and understand the target codebase",
		"Identify patterns, dependencies, and architecture",
		"Document findings and potential issues",
		"Provide recommendations",
	},
	"implementation": {
		"Design the solution architecture",
		"Identify required dependencies and tools",
		"Implement core functionality incrementally",
		"Add tests and validation",
		"Optimize and refactor as needed",
	},
	"debugging": {
		"Reproduce the issue consistently",
		"Analyze logs and error traces",
		"Identify root cause using debugging tools",
		"Implement and test the fix",
		"Verify the solution resolves the issue",
	},
	"research": {
		"Define research scope and objectives",
		"Gather information from multiple sources",
		"Analyze and synthesize findings",
		"Present conclusions with supporting evidence",
	},
	"refactoring": {
		"Analyze current code structure and issues",
		"Plan refactoring strategy to minimize risk",
		"Implement changes incrementally with tests",
		"Verify functionality is preserved",
		"Update documentation as needed",
	},
	"testing": {
		"Analyze code coverage and test gaps",
		"Design comprehensive test cases",
		"Implement unit, integration, and edge case tests",
		"Set up automated test execution",
		"Document testing procedures",
	},
}

var nextSteps = map[string][]string{
	"implementation": {
		"Use toolcreator if new capabilities are needed",
		"Use gopackagetool to fetch libraries a new tool imports",
		"Use bashtool to run the build and tests",
	},
	"debugging": {
		"Use bashtool for running diagnostic commands",
	},
	"research": {
		"Use webscrapertool for detailed information extraction",
	},
}

// AgentPlan is the structured breakdown returned by agenttool.
type AgentPlan struct {
	Task          string   `json:"agent_task"`
	TaskType      string   `json:"task_type"`
	ExecutionPlan []string `json:"execution_plan"`
	ContextFiles  []string `json:"context_files"`
	Requirements  []string `json:"requirements"`
	NextSteps     []string `json:"next_steps"`
}

// NewAgentPlan builds the plan for a task of the given type. Unknown types
// get a generic breakdown.
func NewAgentPlan(task, taskType string, contextFiles, requirements []string) AgentPlan {
	steps := []string{"Analyze the requirements and scope", "Identify relevant tools and resources needed"}
	if specific, ok := executionSteps[taskType]; ok {
		steps = append(steps, specific...)
	} else {
		steps = append(steps,
			"Break down task into manageable components",
			"Execute each component systematically",
			"Validate results at each step")
	}

	next := []string{
		"Use filecontentreadertool to examine relevant files",
		"Use greptool to search for patterns or specific code",
		"Use globtool to locate related files",
	}
	if specific, ok := nextSteps[taskType]; ok {
		next = append(next, specific...)
	} else {
		next = append(next, "Proceed with systematic execution of the plan")
	}

	if contextFiles == nil {
		contextFiles = []string{}
	}
	if requirements == nil {
		requirements = []string{}
	}
	return AgentPlan{
		Task:          task,
		TaskType:      taskType,
		ExecutionPlan: steps,
		ContextFiles:  contextFiles,
		Requirements:  requirements,
		NextSteps:     next,
	}
}

// Markdown renders the plan for the model, ending with the plan as JSON.
func (p AgentPlan) Markdown() (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🤖 **Agent Task Plan Created**\n\n**Task**: %s\n**Type**: %s\n\n**Execution Plan**:\n", p.Task, p.TaskType)
	for i, step := range p.ExecutionPlan {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	if len(p.ContextFiles) > 0 {
		sb.WriteString("\n**Context Files to Analyze**:\n")
		for _, f := range p.ContextFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	if len(p.Requirements) > 0 {
		sb.WriteString("\n**Requirements**:\n")
		for _, r := range p.Requirements {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	sb.WriteString("\n**Recommended Next Steps**:\n")
	for i, step := range p.NextSteps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "\n**Agent Plan JSON**:\n```json\n%s\n```", data)
	return sb.String(), nil
}

// Agent produces a structured plan for a complex task. It does not start a
// second conversation.
func Agent() agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name:        "agenttool",
		Description: "Creates a focused sub-conversation to handle complex, multi-step tasks with detailed planning and execution",
		Parameters: object([]string{"task"}, map[string]any{
			"task":          prop("string", "Detailed description of the complex task to be handled"),
			"task_type":     enumProp("Type of task to optimize the approach", agentTaskTypes...),
			"context_files": arrayProp("List of file paths relevant to the task", prop("string", "File path")),
			"requirements":  arrayProp("Specific requirements or constraints", prop("string", "Requirement")),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		task := agentloop.StringArgOr(args, "task", "")
		if task == "" {
			return nil, errors.New("no task provided")
		}
		files, _ := agentloop.StringSliceArg(args, "context_files")
		reqs, _ := agentloop.StringSliceArg(args, "requirements")
		plan := NewAgentPlan(task, agentloop.StringArgOr(args, "task_type", "implementation"), files, reqs)
		return plan.Markdown()
	})
}
