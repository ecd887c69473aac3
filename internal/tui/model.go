// Package tui is a live viewer for segments as the driver emits them.
package tui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"topicseg/internal/domain"
)

// SegmentMsg delivers one emitted segment to the viewer.
type SegmentMsg domain.Segment

// DoneMsg reports the end of the run.
type DoneMsg struct {
	Summary string
	Err     error
}

// Model is the Bubble Tea model for the segment viewer.
type Model struct {
	source   string
	viewport viewport.Model
	segments []domain.Segment
	status   string
	cursor   int
	follow   bool
	ready    bool
	done     bool
}

// New creates a viewer; source names the input in the header.
func New(source string) Model {
	return Model{
		source:   source,
		viewport: viewport.New(0, 0),
		status:   "Reading...",
		follow:   true,
	}
}

func (m Model) Init() tea.Cmd { return nil }

// Update handles segment, key and window events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := segmentBoxStyle.GetFrameSize()
		reserved := 2 + 1 + fh // header + list line, status, frame
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case SegmentMsg:
		m.segments = append(m.segments, domain.Segment(msg))
		if m.follow {
			m.cursor = len(m.segments) - 1
		}
		m.status = fmt.Sprintf("%d segments", len(m.segments))
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case DoneMsg:
		m.done = true
		if msg.Err != nil {
			m.status = "Error: " + msg.Err.Error()
		} else {
			m.status = msg.Summary
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d", "q":
			return m, tea.Quit
		case "down", "j":
			if len(m.segments) > 0 {
				m.cursor = (m.cursor + 1) % len(m.segments)
				m.follow = m.cursor == len(m.segments)-1
				m.viewport.SetContent(m.renderCurrent())
			}
			return m, nil
		case "up", "k":
			if len(m.segments) > 0 {
				m.cursor = (m.cursor - 1 + len(m.segments)) % len(m.segments)
				m.follow = m.cursor == len(m.segments)-1
				m.viewport.SetContent(m.renderCurrent())
			}
			return m, nil
		case "end", "G":
			m.follow = true
			if len(m.segments) > 0 {
				m.cursor = len(m.segments) - 1
				m.viewport.SetContent(m.renderCurrent())
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the header, current segment and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("topicseg  " + m.source)
	position := dimStyle.Render(m.position())
	body := segmentBoxStyle.Render(m.viewport.View())
	statusStyle := runningStyle
	if m.done {
		statusStyle = doneStyle
	}
	return header + "\n" + position + "\n" + body + "\n" + statusStyle.Render(m.status)
}

// Current returns the segment under the cursor.
func (m Model) Current() (domain.Segment, bool) {
	if len(m.segments) == 0 {
		return domain.Segment{}, false
	}
	return m.segments[m.cursor], true
}

func (m Model) position() string {
	if len(m.segments) == 0 {
		return "no segments yet"
	}
	pos := fmt.Sprintf("segment %d/%d", m.cursor+1, len(m.segments))
	if m.follow && !m.done {
		pos += "  (following)"
	}
	return pos
}

func (m Model) renderCurrent() string {
	seg, ok := m.Current()
	if !ok {
		return "Waiting for the first boundary."
	}
	title := fmt.Sprintf("%s  sentences=%d", seg.ID, seg.Sentences)
	return title + "\n\n" + highlightHeadline(seg.Text, seg.Headline)
}

var (
	segmentBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	runningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	doneStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	highlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe   = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe      = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightHeadline marks the sentence of text that best matches headline.
func highlightHeadline(text, headline string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	hTokens := toTokenSet(headline)
	if len(hTokens) == 0 {
		return strings.Join(trimAll(sentences), " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(hTokens, s)
		if strings.TrimSpace(s) == strings.TrimSpace(headline) {
			bestIdx = i
			break
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	sentences = trimAll(sentences)
	sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	return strings.Join(sentences, " ")
}

func trimAll(sentences []string) []string {
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	return sentences
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(tokens map[string]struct{}, sentence string) int {
	score := 0
	words := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(words))
	for _, t := range words {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := tokens[t]; ok {
			score++
		}
	}
	return score
}
