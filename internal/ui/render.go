// Package ui renders CLI output: search results, task status and
// instance summaries, styled on a TTY and plain everywhere else.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/lming/mimir"
)

// Renderer writes human-readable command output.
type Renderer struct {
	out    io.Writer
	styles Styles
}

// New builds a renderer for out. Colors are enabled only when out is a
// terminal and NO_COLOR is unset.
func New(out io.Writer) *Renderer {
	styles := NoColorStyles()
	if f, ok := out.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			styles = DefaultStyles()
		}
	}
	return &Renderer{out: out, styles: styles}
}

// SearchResult prints hits one per line with rank, optional score and the
// document body.
func (r *Renderer) SearchResult(res mimir.SearchResult, showScore bool) {
	s := r.styles
	fmt.Fprintf(r.out, "%s %s\n",
		s.Header.Render(fmt.Sprintf("%d hits", res.EstimatedTotalHits)),
		s.Dim.Render(fmt.Sprintf("(%s)", res.ProcessingTime)))

	for i, hit := range res.Hits {
		line := fmt.Sprintf("%3d.", res.Offset+i+1)
		if showScore {
			line += " " + s.Score.Render(fmt.Sprintf("[%.3f]", hit.RankingScore))
		}
		body, err := hit.Document.MarshalJSON()
		if err != nil {
			body = []byte(s.Error.Render("<unrenderable document>"))
		}
		fmt.Fprintf(r.out, "%s %s\n", s.Accent.Render(line), body)
	}
}

// Task prints one task's state and error, if any.
func (r *Renderer) Task(t mimir.Task) {
	s := r.styles
	status := string(t.Status)
	switch t.Status {
	case mimir.TaskSucceeded:
		status = s.Success.Render(status)
	case mimir.TaskFailed:
		status = s.Error.Render(status)
	default:
		status = s.Warning.Render(status)
	}
	fmt.Fprintf(r.out, "%s %d %s %s %s\n",
		s.Label.Render("task"), t.UID, s.Dim.Render(t.Type), status,
		s.Dim.Render(t.Duration.Round(time.Millisecond).String()))
	if err := t.Err(); err != nil {
		fmt.Fprintf(r.out, "  %s\n", s.Error.Render(err.Error()))
	}
}

// Indexes prints one line per index.
func (r *Renderer) Indexes(infos []mimir.IndexInfo) {
	s := r.styles
	if len(infos) == 0 {
		fmt.Fprintln(r.out, s.Dim.Render("no indexes"))
		return
	}
	for _, info := range infos {
		pk := info.PrimaryKey
		if pk == "" {
			pk = "-"
		}
		fmt.Fprintf(r.out, "%s  %s %s  %s %s\n",
			s.Header.Render(info.UID),
			s.Label.Render("primaryKey:"), pk,
			s.Label.Render("updated:"), info.UpdatedAt.Format(time.RFC3339))
	}
}

// Status prints an instance summary.
func (r *Renderer) Status(name, dataDir, url string, healthy bool, indexes []mimir.IndexInfo) {
	s := r.styles
	health := s.Success.Render("healthy")
	if !healthy {
		health = s.Error.Render("unreachable")
	}
	fmt.Fprintf(r.out, "%s %s (%s)\n", s.Label.Render("instance"), s.Header.Render(name), health)
	fmt.Fprintf(r.out, "%s %s\n", s.Label.Render("data dir"), dataDir)
	fmt.Fprintf(r.out, "%s %s\n", s.Label.Render("engine  "), url)
	fmt.Fprintf(r.out, "%s %d\n", s.Label.Render("indexes "), len(indexes))
	r.Indexes(indexes)
}

// Error prints an error line.
func (r *Renderer) Error(err error) {
	fmt.Fprintf(r.out, "%s %v\n", r.styles.Error.Render("error:"), err)
}
