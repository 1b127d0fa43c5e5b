package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zjrosen/relay/internal/permission"
)

// console brokers stdin between the chat loop and permission prompts. A
// single reader goroutine owns the stream; consumers claim lines in FIFO
// order, so a prompt raised mid-turn gets the next line the user types.
type console struct {
	out    io.Writer
	claims chan chan string
}

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{out: out, claims: make(chan chan string)}
	go c.route(in)
	return c
}

func (c *console) route(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		reply := <-c.claims
		reply <- scanner.Text()
	}
	// EOF: resolve every later claim as closed.
	for reply := range c.claims {
		close(reply)
	}
}

// ReadLine claims the next input line. Returns false on EOF or when the
// context is done.
func (c *console) ReadLine(ctx context.Context) (string, bool) {
	reply := make(chan string, 1)
	select {
	case c.claims <- reply:
	case <-ctx.Done():
		return "", false
	}
	select {
	case line, ok := <-reply:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// consoleSurface answers permission requests at the terminal. Prompts share
// stdin with the chat loop through the console broker and deny when
// unanswered, the same contract as the non-interactive fallback.
type consoleSurface struct {
	con     *console
	timeout time.Duration
}

func (s *consoleSurface) promptTimeout() time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}
	return permission.FallbackTimeout
}

func (s *consoleSurface) ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(s.con.out, prompt)
	ctx, cancel := context.WithTimeout(ctx, s.promptTimeout())
	defer cancel()
	line, ok := s.con.ReadLine(ctx)
	if !ok {
		return "", fmt.Errorf("prompt unanswered")
	}
	return strings.TrimSpace(line), nil
}

func (s *consoleSurface) AskPermission(ctx context.Context, req permission.Request) (permission.Decision, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "\nTool permission request: %s\n", req.ToolName)
	for k, v := range req.Inputs {
		fmt.Fprintf(&b, "  %s: %v\n", k, v)
	}
	fmt.Fprint(&b, "Allow? [y]es / [a]lways / [n]o: ")

	answer, err := s.ask(ctx, b.String())
	if err != nil {
		return permission.DecisionDeny, nil
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return permission.DecisionAllow, nil
	case "a", "always":
		return permission.DecisionAllowAlways, nil
	default:
		return permission.DecisionDeny, nil
	}
}

func (s *consoleSurface) AskQuestion(ctx context.Context, req permission.Request) (map[string]any, error) {
	answers := make(map[string]any, len(req.Questions))
	for _, q := range req.Questions {
		prompt := "\n" + q.Text + "\n"
		if len(q.Options) > 0 {
			prompt += "  options: " + strings.Join(q.Options, ", ") + "\n"
		}
		prompt += "> "
		answer, err := s.ask(ctx, prompt)
		if err != nil {
			return nil, err
		}
		answers[q.ID] = answer
	}
	return answers, nil
}

func (s *consoleSurface) AskPlanApproval(ctx context.Context, req permission.Request) (bool, string, error) {
	answer, err := s.ask(ctx, fmt.Sprintf("\nPlan approval requested:\n%s\nApprove? [y/n]: ", req.Plan))
	if err != nil {
		return false, "", nil
	}
	return strings.HasPrefix(strings.ToLower(answer), "y"), "", nil
}
