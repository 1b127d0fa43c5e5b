package session

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjrosen/relay/internal/client"
	"github.com/zjrosen/relay/internal/conversation"
	"github.com/zjrosen/relay/internal/log"
)

// HistoryReader reads the provider's persisted transcript for a session.
// Providers own the on-disk history; relay only reads it, for history-load
// and for backfilling durable user-message ids after a turn.
type HistoryReader interface {
	Messages(ctx context.Context, workDir, sessionRef string) ([]conversation.Message, error)
}

// JSONLHistory reads the JSONL transcripts the Claude CLI writes under
// {root}/{munged-workdir}/{sessionRef}.jsonl, one wire record per line.
type JSONLHistory struct {
	// Root overrides the transcript root; empty means ~/.claude/projects.
	Root string
}

// Messages reads and normalizes the transcript for a session. Missing files
// are not an error: a brand-new session has no transcript yet.
func (h *JSONLHistory) Messages(ctx context.Context, workDir, sessionRef string) ([]conversation.Message, error) {
	if sessionRef == "" {
		return nil, nil
	}
	path := filepath.Join(h.root(), mungeProjectDir(workDir), sessionRef+".jsonl")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var messages []conversation.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw, err := client.ParseRawTree(line)
		if err != nil {
			log.Warn(log.CatHistory, "skipping malformed transcript line", "path", path, "error", err)
			continue
		}
		if msg, ok := conversation.ParseWireMessage(raw); ok {
			messages = append(messages, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return messages, nil
}

func (h *JSONLHistory) root() string {
	if h.Root != "" {
		return h.Root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// mungeProjectDir maps a working directory onto the provider's transcript
// folder name: every non-alphanumeric rune becomes a dash.
func mungeProjectDir(workDir string) string {
	var sb strings.Builder
	for _, r := range workDir {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	return sb.String()
}
