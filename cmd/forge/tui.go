package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/pkg/content"
)

type runner interface {
	Run(ctx context.Context, req content.GenerationRequest) (*assembly.ComposedEntity, error)
}

type resultMsg struct {
	composed *assembly.ComposedEntity
	err      error
}

// progressModel shows a spinner until the pipeline finishes.
type progressModel struct {
	spinner spinner.Model
	label   string
	start   time.Time
	run     tea.Cmd
	cancel  context.CancelFunc

	done     bool
	composed *assembly.ComposedEntity
	err      error
}

func newProgressModel(ctx context.Context, p runner, req content.GenerationRequest) progressModel {
	ctx, cancel := context.WithCancel(ctx)
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = loadingStyle

	label := string(req.Kind)
	if req.IncludeImage {
		label += " with image"
	}
	return progressModel{
		spinner: sp,
		label:   label,
		start:   time.Now(),
		cancel:  cancel,
		run: func() tea.Msg {
			composed, err := p.Run(ctx, req)
			return resultMsg{composed: composed, err: err}
		},
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.cancel()
			m.done = true
			m.err = context.Canceled
			return m, tea.Quit
		}
	case resultMsg:
		m.cancel()
		m.done = true
		m.composed, m.err = msg.composed, msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	elapsed := time.Since(m.start).Truncate(time.Second)
	return fmt.Sprintf("%s Generating %s... %s\n", m.spinner.View(), m.label, promptStyle.Render(elapsed.String()))
}

func runWithSpinner(ctx context.Context, out io.Writer, p runner, req content.GenerationRequest) (*assembly.ComposedEntity, error) {
	final, err := tea.NewProgram(newProgressModel(ctx, p, req), tea.WithOutput(out), tea.WithContext(ctx)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(progressModel)
	return m.composed, m.err
}
