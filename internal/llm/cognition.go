package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
)

// Decide answers a walker's decision request. It implements
// cognition.Reasoner.
func (c *Client) Decide(ctx context.Context, req cognition.Request) (cognition.Decision, error) {
	if !c.Enabled() {
		return cognition.Decision{}, fmt.Errorf("llm: client not configured: %w", cognition.ErrServiceUnavailable)
	}

	system := buildSystemPrompt(req)
	user := buildUserPrompt(req.Payload)

	text, err := c.Complete(ctx, system, user, c.cfg.MaxTokens)
	if err != nil {
		return cognition.Decision{}, fmt.Errorf("%s decision: %w", req.Task, err)
	}
	return parseDecision(req.Task, text)
}

func buildSystemPrompt(req cognition.Request) string {
	p := req.Payload
	self := p.Self
	return fmt.Sprintf(
		`You are %s, one of a small group of strangers on a long walk down a country road.
Sociability %.2f, openness %.2f, warmth %.2f, courage %.2f, temper %.2f.
Stay in character. Keep spoken lines short and plain.

%s

Respond ONLY with a JSON object of the form %s`,
		self.Name,
		self.Traits.Sociability, self.Traits.Openness, self.Traits.Warmth, self.Traits.Courage, self.Traits.Temper,
		p.Descriptor,
		req.Schema,
	)
}

func buildUserPrompt(p cognition.Payload) string {
	var b strings.Builder

	if p.Location != "" {
		fmt.Fprintf(&b, "You are near %s.\n", p.Location)
	}
	for _, o := range p.Others {
		fmt.Fprintf(&b, "With you: %s (%s).\n", o.Name, o.Activity)
	}
	if p.Stage != "" {
		fmt.Fprintf(&b, "You and them: %s (affinity %.2f).\n", p.Stage, p.Affinity)
	}
	b.WriteString("\n")

	if p.Crisis != nil {
		fmt.Fprintf(&b, "Crisis: %s near %s, severity %d. %d of %d helpers so far, %d ticks left.\n\n",
			p.Crisis.Kind, p.Crisis.Location, p.Crisis.Severity,
			p.Crisis.Responses, p.Crisis.Quota, p.Crisis.TicksLeft)
	}

	if len(p.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, l := range p.History {
			fmt.Fprintf(&b, "%s: %s\n", l.Name, l.Text)
		}
		b.WriteString("\n")
	}

	if len(p.Knowledge) > 0 {
		b.WriteString("Things you overheard:\n")
		for _, k := range p.Knowledge {
			fmt.Fprintf(&b, "- (%s) %s\n", k.Clarity, k.Text)
		}
		b.WriteString("\n")
	}

	if len(p.Narrative) > 0 {
		b.WriteString("Recently on the road:\n")
		for _, e := range p.Narrative {
			fmt.Fprintf(&b, "- tick %d: %s\n", e.Tick, e.Kind)
		}
		b.WriteString("\n")
	}

	b.WriteString("What do you do? Respond with the JSON object only.")
	return b.String()
}

func parseDecision(task cognition.Task, response string) (cognition.Decision, error) {
	// Find JSON object in response (the model might include explanation text).
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return cognition.Decision{}, fmt.Errorf("llm: no JSON object found in %s response", task)
	}

	var d cognition.Decision
	if err := json.Unmarshal([]byte(response[start:end+1]), &d); err != nil {
		return cognition.Decision{}, fmt.Errorf("llm: parse %s decision: %w", task, err)
	}

	switch task {
	case cognition.TaskPropose, cognition.TaskRespondDialogue:
		d.Utterance = strings.TrimSpace(d.Utterance)
		if d.Utterance == "" {
			return cognition.Decision{}, fmt.Errorf("llm: %s decision has no utterance", task)
		}
	case cognition.TaskCrisisResponse:
		d.Action = strings.TrimSpace(d.Action)
	}
	return d, nil
}
