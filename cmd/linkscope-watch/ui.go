/*
 * Copyright 2026 LinkScope Contributors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/linkscope/linkscope-go/pkg/feed"
	"github.com/linkscope/linkscope-go/pkg/models"
	"github.com/linkscope/linkscope-go/pkg/snapshot"
)

type snapshotMsg []models.Device

type statusTickMsg time.Time

type watchModel struct {
	manager *feed.Manager
	devices []models.Device
	status  models.FeedStatus
	styles  watchStyles
}

type watchStyles struct {
	header   lipgloss.Style
	gateway  lipgloss.Style
	dim      lipgloss.Style
	stateOK  lipgloss.Style
	stateBad lipgloss.Style
}

func newWatchStyles() watchStyles {
	return watchStyles{
		header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		gateway:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		stateOK:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		stateBad: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

// runTUI renders the live device table until the user quits.
func runTUI(manager *feed.Manager, store *snapshot.Store) error {
	m := watchModel{
		manager: manager,
		status:  manager.Status(),
		styles:  newWatchStyles(),
	}

	p := tea.NewProgram(m)

	updates := store.Subscribe()
	defer store.Unsubscribe(updates)

	go func() {
		for devs := range updates {
			p.Send(snapshotMsg(devs))
		}
	}()

	_, err := p.Run()

	return err
}

func (watchModel) Init() tea.Cmd {
	return statusTick()
}

func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.devices = msg
		return m, nil
	case statusTickMsg:
		m.status = m.manager.Status()
		return m, statusTick()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.manager.RequestSnapshotRefresh()
			return m, nil
		}
	}

	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.header.Render("LinkScope devices"))
	b.WriteString("  ")
	b.WriteString(m.renderState())
	b.WriteString("\n\n")

	if len(m.devices) == 0 {
		b.WriteString(m.styles.dim.Render("no devices yet"))
		b.WriteString("\n")
	} else {
		devs := make([]models.Device, len(m.devices))
		copy(devs, m.devices)
		sort.Slice(devs, func(i, j int) bool { return devs[i].IP < devs[j].IP })

		b.WriteString(m.styles.dim.Render(fmt.Sprintf("%-16s %-18s %-24s %s", "IP", "MAC", "NAME", "VENDOR")))
		b.WriteString("\n")

		for i := range devs {
			line := fmt.Sprintf("%-16s %-18s %-24s %s",
				devs[i].IP, devs[i].MAC, devs[i].DisplayName(), devs[i].Manufacturer)

			if devs[i].IsGateway {
				line = m.styles.gateway.Render(line + "  (gateway)")
			}

			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.styles.dim.Render("r: refresh  q: quit"))
	b.WriteString("\n")

	return b.String()
}

func (m watchModel) renderState() string {
	label := fmt.Sprintf("[%s]", m.status.State)

	if m.status.State == models.StateConnected {
		return m.styles.stateOK.Render(label)
	}

	if m.status.Retries > 0 {
		label = fmt.Sprintf("[%s, attempt %d]", m.status.State, m.status.Retries)
	}

	return m.styles.stateBad.Render(label)
}
