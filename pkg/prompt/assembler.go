// Package prompt renders an interpreted query and its evidence into a
// prompt that fits the model's context budget.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	serrors "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/metrics"
	"github.com/statline-ai/statline/pkg/models"
)

//go:embed templates.tmpl
var templateText string

var templates = template.Must(template.New("prompt").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(templateText))

const separator = "\n\n"

// templateData is what every instruction template sees.
type templateData struct {
	Question string
	Scope    string
	Entities []string
	Degraded bool
}

// Assembler builds PromptPlans.
type Assembler struct {
	counter TokenCounter
	logger  *zap.Logger
}

// NewAssembler returns an Assembler using counter for all measurements.
func NewAssembler(counter TokenCounter, logger *zap.Logger) *Assembler {
	if counter == nil {
		counter = Approximate{}
	}
	return &Assembler{counter: counter, logger: logging.OrNop(logger)}
}

// Counter returns the token counter the assembler measures with.
func (a *Assembler) Counter() TokenCounter { return a.counter }

// Assemble renders the instruction for interp and adds evidence items in
// order for as long as the whole prompt stays within maxTokens. Items are
// never cut in half. An instruction that alone exceeds maxTokens is a
// configuration error.
func (a *Assembler) Assemble(interp models.QueryInterpretation, set models.EvidenceSet, maxTokens int) (models.PromptPlan, error) {
	defer metrics.ObserveStage("assemble", time.Now())

	instruction, err := renderInstruction(interp, set.Degraded)
	if err != nil {
		return models.PromptPlan{}, serrors.Wrap(err, serrors.CategoryInternalFailure, "prompt_template_failed", false)
	}
	instructionTokens := a.counter.Count(instruction)
	if instructionTokens > maxTokens {
		return models.PromptPlan{}, serrors.Wrap(
			fmt.Errorf("instruction for intent %q needs %d tokens, context budget is %d", interp.Intent, instructionTokens, maxTokens),
			serrors.CategoryBudgetViolation, "template_exceeds_budget", false)
	}

	plan := models.PromptPlan{
		Instruction:       instruction,
		Text:              instruction,
		InstructionTokens: instructionTokens,
		TotalTokens:       instructionTokens,
		MaxTokens:         maxTokens,
		Included:          []string{},
	}

	for i := range set.Items {
		block := renderEvidence(set.Items[:i+1])
		text := instruction + separator + block
		total := a.counter.Count(text)
		if total > maxTokens {
			plan.Dropped = len(set.Items) - i
			break
		}
		plan.EvidenceBlock = block
		plan.Text = text
		plan.TotalTokens = total
		plan.Included = append(plan.Included, set.Items[i].ID)
	}
	if plan.EvidenceBlock != "" {
		plan.EvidenceTokens = a.counter.Count(plan.EvidenceBlock)
	}

	if plan.Dropped > 0 {
		a.logger.Info("evidence dropped to fit context budget",
			zap.String("query_id", interp.Query.ID),
			zap.Int("included", len(plan.Included)),
			zap.Int("dropped", plan.Dropped),
			zap.Int("max_tokens", maxTokens))
	}
	return plan, nil
}

func renderInstruction(interp models.QueryInterpretation, degraded bool) (string, error) {
	name := string(interp.Intent)
	if templates.Lookup(name) == nil {
		name = string(models.IntentUnknown)
	}
	data := templateData{
		Question: strings.TrimSpace(interp.Query.Text),
		Scope:    scope(interp.Range),
		Degraded: degraded,
	}
	for _, e := range interp.Entities {
		data.Entities = append(data.Entities, fmt.Sprintf("%s (%s)", e.Canonical, e.Type))
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func scope(r models.TimeRange) string {
	switch {
	case r.Unbounded():
		return "all available seasons"
	case r.Start.IsZero():
		return "up to " + r.End.Format(time.DateOnly)
	case r.End.IsZero():
		return "from " + r.Start.Format(time.DateOnly)
	default:
		return r.Start.Format(time.DateOnly) + " to " + r.End.Format(time.DateOnly)
	}
}

// renderEvidence serialises items grouped by source type, groups in order of
// first appearance and items in their given order.
func renderEvidence(items []models.EvidenceItem) string {
	var (
		order  []models.SourceType
		groups = make(map[models.SourceType][]models.EvidenceItem)
	)
	for _, it := range items {
		if _, ok := groups[it.SourceType]; !ok {
			order = append(order, it.SourceType)
		}
		groups[it.SourceType] = append(groups[it.SourceType], it)
	}

	var b strings.Builder
	for gi, st := range order {
		if gi > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s evidence\n", title(string(st)))
		for _, it := range groups[st] {
			b.WriteString(renderItem(it))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderItem(it models.EvidenceItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] (%s, score %.3f) %s", it.ID, anchor(it.Anchor), it.Score, strings.TrimSpace(it.Snippet))
	keys := make([]string, 0, len(it.Fields))
	for k := range it.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "; %s=%v", k, it.Fields[k])
	}
	return b.String()
}

func anchor(a models.Anchor) string {
	switch {
	case !a.Date.IsZero() && a.Season != 0:
		return fmt.Sprintf("%s, season %d", a.Date.Format(time.DateOnly), a.Season)
	case !a.Date.IsZero():
		return a.Date.Format(time.DateOnly)
	case a.Season != 0:
		return fmt.Sprintf("season %d", a.Season)
	default:
		return "undated"
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
