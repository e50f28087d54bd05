// Package prompt assembles the single text artifact an AgentSupervisor
// hands its child process: project identity, optional project documents,
// recent architecture decisions, sibling-card awareness, the card's own
// body, active steering corrections, a fixed workflow protocol, and a
// completion checklist — capped in size, with sections dropped in a
// documented priority order on overflow. Built the way a string.Builder
// section assembly (header, prompt, then a bounded context list) extends
// to a fuller section list. Pure function: all external reads go through
// optional extension interfaces on card.Store and are tolerated to fail by
// substituting empty defaults, so a missing optional context source never
// fails assembly outright.
package prompt

import (
	"context"
	"strings"

	"github.com/foremanhq/foreman/internal/card"
)

// Document is one project document the assembler may include (brief,
// instructions, or assumptions).
type Document struct {
	Type  string // "brief" | "instructions" | "assumptions"
	Title string
	Body  string
}

// Decision is one recent architecture decision record.
type Decision struct {
	Title string
	Body  string
}

// DocumentProvider is an optional CardStore extension supplying project
// documents. Absence (store doesn't implement it) or a returned error both
// fall back to "no documents" rather than failing assembly.
type DocumentProvider interface {
	GetProjectDocuments(ctx context.Context, projectID string, types []string) ([]Document, error)
}

// DecisionProvider is an optional CardStore extension supplying recent
// architecture decisions.
type DecisionProvider interface {
	GetRecentDecisions(ctx context.Context, projectID string, limit int) ([]Decision, error)
}

// SiblingProvider is an optional CardStore extension supplying sibling-card
// awareness: cards in-progress or recently done on the same project.
type SiblingProvider interface {
	GetSiblingCards(ctx context.Context, projectID, excludeCardID string) ([]card.Card, error)
}

// SteeringProvider is an optional CardStore extension supplying active
// steering corrections for a project.
type SteeringProvider interface {
	GetActiveSteering(ctx context.Context, projectID string) ([]string, error)
}

// Budget bounds the assembled prompt and each document section.
type Budget struct {
	MaxPromptChars int
	MaxDocChars    int
}

// DefaultBudget is the budget Assemble uses: 24000 characters for the whole
// prompt and 4000 for each document.
var DefaultBudget = Budget{MaxPromptChars: 24000, MaxDocChars: 4000}

const checklist = `## Completion checklist

- [ ] Changes compile and pass the project's existing tests.
- [ ] New behavior is covered by a test where practical.
- [ ] No unrelated files were touched.
- [ ] Commit messages describe what changed and why.`

const protocol = `## Workflow protocol

1. Read the card and any attached context before making changes.
2. Make the smallest change that satisfies the card.
3. Run the project's own verification commands before finishing.
4. Leave the working tree clean — no stray files, no debug output.`

// Assemble builds the prompt text for one card. Section priority on
// overflow: decisions are dropped first, then sibling awareness, then
// project documents; identity, the card's own body, and the checklist are
// never dropped.
func Assemble(ctx context.Context, store card.Store, c card.Card, project card.Project) string {
	return AssembleWithBudget(ctx, store, c, project, DefaultBudget)
}

// AssembleWithBudget is Assemble with an explicit size budget, used by
// tests and by callers that need a budget other than DefaultBudget.
func AssembleWithBudget(ctx context.Context, store card.Store, c card.Card, project card.Project, budget Budget) string {
	identity := assembleIdentity(project)
	cardBody := assembleCard(c)
	docs := assembleDocuments(ctx, store, project.ID, budget.MaxDocChars)
	decisions := assembleDecisions(ctx, store, project.ID)
	siblings := assembleSiblings(ctx, store, project.ID, c.ID)
	steering := assembleSteering(ctx, store, project.ID)

	// Optional sections in the order they're dropped, front to back, when
	// the assembled text exceeds budget.MaxPromptChars (this is not the
	// order they're appended in, which is docs, decisions, siblings).
	optional := []string{decisions, siblings, docs}

	for {
		var sb strings.Builder
		sb.WriteString(identity)
		sb.WriteString(docs)
		sb.WriteString(decisions)
		sb.WriteString(siblings)
		sb.WriteString(cardBody)
		sb.WriteString(steering)
		sb.WriteString(protocol)
		sb.WriteString("\n\n")
		sb.WriteString(checklist)

		out := sb.String()
		if budget.MaxPromptChars <= 0 || len(out) <= budget.MaxPromptChars {
			return out
		}

		// Drop the highest-priority-to-drop section that's still present,
		// per the documented order: decisions, siblings, documents.
		dropped := false
		for i, sec := range optional {
			if sec == "" {
				continue
			}
			switch i {
			case 0:
				decisions = ""
			case 1:
				siblings = ""
			case 2:
				docs = ""
			}
			optional[i] = ""
			dropped = true
			break
		}
		if !dropped {
			// Nothing left to drop; identity/card/checklist are mandatory
			// even if the result exceeds budget.
			return out
		}
	}
}

func assembleIdentity(project card.Project) string {
	var sb strings.Builder
	sb.WriteString("# Project: " + project.Name + "\n\n")
	if project.ID != "" {
		sb.WriteString("Project ID: " + project.ID + "\n\n")
	}
	return sb.String()
}

func assembleCard(c card.Card) string {
	var sb strings.Builder
	sb.WriteString("## Card: " + c.Title + "\n\n")
	if c.Description != "" {
		sb.WriteString(c.Description + "\n\n")
	}
	if c.ContextSnapshot != "" {
		sb.WriteString("### Context from a prior attempt\n\n")
		sb.WriteString(c.ContextSnapshot + "\n\n")
	}
	return sb.String()
}

func assembleDocuments(ctx context.Context, store card.Store, projectID string, maxDocChars int) string {
	provider, ok := store.(DocumentProvider)
	if !ok {
		return ""
	}
	docs, err := provider.GetProjectDocuments(ctx, projectID, []string{"brief", "instructions", "assumptions"})
	if err != nil || len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Project documents\n\n")
	for _, d := range docs {
		body := d.Body
		if maxDocChars > 0 && len(body) > maxDocChars {
			body = body[:maxDocChars] + "\n... (truncated)"
		}
		sb.WriteString("### " + d.Title + " (" + d.Type + ")\n\n")
		sb.WriteString(body + "\n\n")
	}
	return sb.String()
}

func assembleDecisions(ctx context.Context, store card.Store, projectID string) string {
	provider, ok := store.(DecisionProvider)
	if !ok {
		return ""
	}
	decisions, err := provider.GetRecentDecisions(ctx, projectID, 10)
	if err != nil || len(decisions) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Recent architecture decisions\n\n")
	for _, d := range decisions {
		sb.WriteString("- **" + d.Title + "**: " + d.Body + "\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

func assembleSiblings(ctx context.Context, store card.Store, projectID, excludeCardID string) string {
	provider, ok := store.(SiblingProvider)
	if !ok {
		return ""
	}
	siblings, err := provider.GetSiblingCards(ctx, projectID, excludeCardID)
	if err != nil || len(siblings) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Other cards on this project\n\n")
	for _, s := range siblings {
		sb.WriteString("- [" + string(s.Column) + "] " + s.Title + "\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

func assembleSteering(ctx context.Context, store card.Store, projectID string) string {
	provider, ok := store.(SteeringProvider)
	if !ok {
		return ""
	}
	corrections, err := provider.GetActiveSteering(ctx, projectID)
	if err != nil || len(corrections) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Steering corrections\n\n")
	for _, c := range corrections {
		sb.WriteString("- " + c + "\n")
	}
	sb.WriteString("\n")
	return sb.String()
}
