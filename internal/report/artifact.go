package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/biocite/biocite/internal/snippet"
)

// Artifact bundles what the markdown writer needs to persist one run.
type Artifact struct {
	Drug       string
	Disease    string
	TrustScore float64
	Body       string
	Sources    []snippet.Snippet
}

// WriteMarkdown saves the report under dir as drug__disease__timestamp.md
// and returns the written path. The clock is injectable for tests; nil
// means time.Now.
func WriteMarkdown(dir string, a Artifact, now func() time.Time) (string, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	name := fmt.Sprintf("%s__%s__%s.md",
		sanitize(a.Drug), sanitize(a.Disease), now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	var b strings.Builder
	b.WriteString("# Biocite Research Report\n\n")
	b.WriteString(fmt.Sprintf("**Drug:** %s\n\n", a.Drug))
	b.WriteString(fmt.Sprintf("**Disease:** %s\n\n", a.Disease))
	b.WriteString(fmt.Sprintf("**Trust Score:** %.1f%%\n\n", a.TrustScore))
	b.WriteString("---\n\n")
	b.WriteString(a.Body)
	if !strings.HasSuffix(a.Body, "\n") {
		b.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "_")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
