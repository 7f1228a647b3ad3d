package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/flume/types"
)

// RenderMode selects the rendered output format.
type RenderMode string

// Render modes.
const (
	RenderJSON   RenderMode = "json"   // canonical compact UTF-8 JSON
	RenderPretty RenderMode = "pretty" // human readable, ANSI color
)

// Console color palette for pretty rendering.
var (
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")) // gray
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")) // blue
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")) // amber
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")) // red
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	keyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	tsStyle       = lipgloss.NewStyle().Faint(true)
)

func levelStyle(lvl types.Level) lipgloss.Style {
	switch {
	case lvl >= types.LevelCritical:
		return criticalStyle
	case lvl >= types.LevelError:
		return errorStyle
	case lvl >= types.LevelWarn:
		return warnStyle
	case lvl >= types.LevelInfo:
		return infoStyle
	default:
		return debugStyle
	}
}

// Renderer turns a structured event into its final textual form. It is
// not a chain processor: the stdout sink invokes it on every write, in
// the synchronous path and when the queue is in use alike, so the chain
// and the queue always carry structured events.
type Renderer struct {
	mode RenderMode
}

// NewRenderer creates a renderer. Unknown modes fall back to JSON.
func NewRenderer(mode RenderMode) *Renderer {
	if mode != RenderPretty {
		mode = RenderJSON
	}
	return &Renderer{mode: mode}
}

// Mode returns the resolved render mode.
func (r *Renderer) Mode() RenderMode { return r.mode }

// Render returns one line of output, without a trailing newline.
func (r *Renderer) Render(event types.Event) []byte {
	if r.mode == RenderPretty {
		return []byte(r.renderPretty(event))
	}
	return event.EncodeJSON()
}

// renderPretty formats "<ts> <LEVEL> <message> key=value ...", reserved
// keys pulled to the front and the rest sorted for stable output.
func (r *Renderer) renderPretty(event types.Event) string {
	lvl := types.LevelOf(event)
	var b strings.Builder

	if ts, ok := event[types.KeyTimestamp].(string); ok {
		b.WriteString(tsStyle.Render(ts))
		b.WriteByte(' ')
	}
	b.WriteString(levelStyle(lvl).Render(fmt.Sprintf("%-8s", lvl.String())))
	b.WriteByte(' ')
	b.WriteString(event.Message())

	rest := make([]string, 0, len(event))
	for k := range event {
		switch k {
		case types.KeyTimestamp, types.KeyLevel, types.KeyEvent, types.KeyMessage:
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		b.WriteByte(' ')
		b.WriteString(keyStyle.Render(k + "="))
		b.WriteString(fmt.Sprintf("%v", event[k]))
	}
	return b.String()
}
