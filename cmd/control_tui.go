// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// View phases
const (
	viewDiscovery = iota
	viewControl
)

// Focus states inside the workout panel
const (
	focusMode = iota
	focusWeight
	focusReps
)

// modeCycle is the order the mode selector steps through.
var modeCycle = []veeproto.TrainingMode{
	veeproto.ModeOldSchool,
	veeproto.ModePump,
	veeproto.ModeTimeUnderTension,
	veeproto.ModeEccentricOnly,
	veeproto.ModeChains,
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// deviceItem adapts a scan result to the list widget.
type deviceItem struct {
	adv link.Advertisement
}

func (d deviceItem) Title() string {
	if d.adv.Name != "" {
		return d.adv.Name
	}
	return "(unnamed)"
}
func (d deviceItem) Description() string {
	return fmt.Sprintf("%s  %d dBm", d.adv.ID, d.adv.RSSI)
}
func (d deviceItem) FilterValue() string { return d.adv.Name }

type controlLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Bridge (for scanning, connecting and sending commands)
	bridge    *controlBridge
	transport string

	// View phase
	view int

	// Device pick list
	devices    []link.Advertisement
	deviceList list.Model
	scanning   bool
	connecting bool

	// Link state
	linkState link.State
	device    link.Advertisement
	firmware  string

	// Live telemetry
	stats       *veeproto.Statistics
	sample      veeproto.Sample
	haveSample  bool
	lastRep     veeproto.RepEvent
	haveRep     bool
	heur        veeproto.Heuristic
	haveHeur    bool
	machState   veeproto.MachineState
	fault       veeproto.FaultCode
	faultDetail uint16

	// Workout form
	weightInput  textinput.Model
	repsInput    textinput.Model
	modeIdx      int
	justLift     bool
	focusedField int

	// Recording
	recording bool
	sessionID string

	// Event log
	eventLog      []controlLogEntry
	maxLogEntries int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type deviceFoundMsg struct {
	adv link.Advertisement
}

type scanDoneMsg struct {
	err error
}

type frameMsg struct {
	frame link.Frame
}

type linkStateMsg struct {
	change link.StateChange
}

type cmdResultMsg struct {
	cmd veeproto.Command
	err error
}

type recordingMsg struct {
	active    bool
	sessionID string
	err       error
}

type supervisorStoppedMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(bridge *controlBridge, transport string) controlModel {
	// Initialize text inputs for weight and rep target
	wi := textinput.New()
	wi.Placeholder = "20.0"
	wi.CharLimit = 6
	wi.Width = 8

	ri := textinput.New()
	ri.Placeholder = "10"
	ri.CharLimit = 3
	ri.Width = 5

	// Initialize device list with empty items
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 40, 10)
	deviceList.Title = "Trainers"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return controlModel{
		bridge:        bridge,
		transport:     transport,
		view:          viewDiscovery,
		devices:       make([]link.Advertisement, 0),
		deviceList:    deviceList,
		scanning:      true,
		stats:         veeproto.NewStatistics(),
		weightInput:   wi,
		repsInput:     ri,
		focusedField:  focusMode,
		eventLog:      make([]controlLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), m.bridge.startScanCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		return m, controlTickCmd()

	case deviceFoundMsg:
		m.handleDeviceFound(msg.adv)

	case scanDoneMsg:
		m.scanning = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Scan failed: %v", msg.err), true)
		} else if m.view == viewDiscovery && !m.connecting {
			m.addLogEntry(fmt.Sprintf("Scan finished: %d trainer(s)", len(m.devices)), false)
		}

	case frameMsg:
		m.handleFrame(msg.frame)

	case linkStateMsg:
		m.handleLinkState(msg.change)

	case cmdResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.cmd.Name(), msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Acknowledged: %s", veeproto.FormatCommand(msg.cmd)), false)
		}

	case recordingMsg:
		m.handleRecording(msg)

	case supervisorStoppedMsg:
		return m.handleSupervisorStopped(msg)
	}

	// Update child components
	var cmd tea.Cmd
	if m.view == viewDiscovery {
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.view == viewControl && m.focusedField == focusWeight {
		m.weightInput, cmd = m.weightInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.view == viewControl && m.focusedField == focusReps {
		m.repsInput, cmd = m.repsInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.view == viewDiscovery {
		return m.handleDiscoveryKey(msg)
	}
	return m.handleControlKey(msg)
}

func (m *controlModel) handleDiscoveryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		selected := m.getSelectedDevice()
		if selected == nil || m.connecting {
			return m, nil
		}
		m.connecting = true
		m.scanning = false
		m.device = *selected
		m.addLogEntry(fmt.Sprintf("Connecting to %s...", deviceLabel(*selected)), false)
		return m, m.bridge.connectCmd(*selected)

	case "r":
		if m.connecting {
			return m, nil
		}
		m.devices = m.devices[:0]
		m.updateDeviceList()
		m.scanning = true
		m.addLogEntry("Rescanning...", false)
		return m, m.bridge.startScanCmd()

	case "up", "k", "down", "j":
		m.deviceList, _ = m.deviceList.Update(msg)
		return m, nil
	}

	// Pass through to the list
	var cmd tea.Cmd
	m.deviceList, cmd = m.deviceList.Update(msg)
	return m, cmd
}

func (m *controlModel) handleControlKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		return m.handleEnter()

	case "esc":
		m.setFocus(focusMode)
		return m, nil
	}

	// While a text input has focus, everything else is typing.
	if m.focusedField == focusWeight || m.focusedField == focusReps {
		var cmd tea.Cmd
		switch m.focusedField {
		case focusWeight:
			m.weightInput, cmd = m.weightInput.Update(msg)
		case focusReps:
			m.repsInput, cmd = m.repsInput.Update(msg)
		}
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "left", "h":
		if m.focusedField == focusMode {
			m.modeIdx = (m.modeIdx + len(modeCycle) - 1) % len(modeCycle)
		}

	case "right", "l":
		if m.focusedField == focusMode {
			m.modeIdx = (m.modeIdx + 1) % len(modeCycle)
		}

	case "j":
		m.justLift = !m.justLift

	case "s":
		return m, m.bridge.submitCmd(veeproto.Start{})

	case "x":
		return m, m.bridge.submitCmd(veeproto.Stop{})

	case "o":
		return m, m.bridge.submitCmd(veeproto.Stop{Soft: true})

	case "r":
		return m, m.bridge.toggleRecordingCmd()

	case "d":
		m.addLogEntry("Disconnecting...", false)
		return m, m.bridge.disconnectCmd()
	}

	return m, nil
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	// For now, pass mouse events to the list
	if m.view == viewDiscovery {
		m.deviceList, _ = m.deviceList.Update(msg)
	}

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	maxFocus := focusReps
	m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)

	// Skip the rep input while the set is open ended
	if m.focusedField == focusReps && m.justLift {
		m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)
	}

	m.setFocus(m.focusedField)
	return m
}

func (m *controlModel) setFocus(field int) {
	m.focusedField = field
	if field == focusWeight {
		m.weightInput.Focus()
	} else {
		m.weightInput.Blur()
	}
	if field == focusReps {
		m.repsInput.Focus()
	} else {
		m.repsInput.Blur()
	}
}

// handleEnter programs the workout currently described by the form.
func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	weightStr := strings.TrimSpace(m.weightInput.Value())
	if weightStr == "" {
		weightStr = m.weightInput.Placeholder
	}
	weight, err := strconv.ParseFloat(weightStr, 64)
	if err != nil || weight <= 0 {
		m.addLogEntry(fmt.Sprintf("Invalid weight: %s", weightStr), true)
		return m, nil
	}

	mode := modeCycle[m.modeIdx]

	var pp veeproto.ProgramParams
	if m.justLift {
		pp = veeproto.NewJustLift(mode, weight)
	} else {
		repsStr := strings.TrimSpace(m.repsInput.Value())
		if repsStr == "" {
			repsStr = m.repsInput.Placeholder
		}
		reps, err := strconv.Atoi(repsStr)
		if err != nil || reps < 1 || reps >= veeproto.OpenEndedReps {
			m.addLogEntry(fmt.Sprintf("Invalid rep target: %s", repsStr), true)
			return m, nil
		}
		pp = veeproto.NewProgram(mode, reps, 0, weight)
	}

	if overrides, err := cfg.ProfileOverrides(); err == nil {
		if prof, ok := overrides[mode]; ok {
			pp.Params.Profile = &prof
		}
	}

	m.addLogEntry(fmt.Sprintf("Programming %.1fkg %s", weight, veeproto.FormatTrainingMode(mode)), false)
	return m, m.bridge.programCmd(pp)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	helpText := "q=quit enter=connect r=rescan"
	if m.view == viewControl {
		helpText = "q=quit tab=focus enter=program d=disconnect"
	}
	s.WriteString(titleStyle.Render("VEELINK CONTROL"))
	s.WriteString(" ")
	connStatus := m.transport
	if m.view == viewControl && m.linkState != link.StateReady {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	if m.recording {
		s.WriteString(" ")
		s.WriteString(errorStyle.Render(fmt.Sprintf("REC %s", shortID(m.sessionID))))
	}
	s.WriteString("\n\n")

	if m.view == viewDiscovery {
		s.WriteString(m.renderDiscoveryView(statsValueStyle, warningStyle, statsLabelStyle, boxStyle, focusedBoxStyle))
	} else {
		s.WriteString(m.renderControlView(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, boxStyle, focusedBoxStyle))
	}

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderDiscoveryView(statsValueStyle, warningStyle, statsLabelStyle, boxStyle, focusedBoxStyle lipgloss.Style) string {
	var s strings.Builder

	switch {
	case m.connecting:
		s.WriteString(warningStyle.Render(fmt.Sprintf("Connecting to %s...", deviceLabel(m.device))))
	case m.scanning:
		s.WriteString(warningStyle.Render("Scanning for trainers..."))
	default:
		s.WriteString(statsValueStyle.Render("Scan finished"))
	}
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Found: %d trainer(s)\n\n", len(m.devices)))

	s.WriteString(focusedBoxStyle.Render(m.deviceList.View()))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

func (m controlModel) renderControlView(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, boxStyle, focusedBoxStyle lipgloss.Style) string {
	var s strings.Builder

	// Layout: left panel (telemetry) | right panel (workout form)
	leftWidth := 46
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	telemetryContent := m.renderTelemetry(statsLabelStyle, statsValueStyle, errorStyle, headerStyle)
	telemetryPanel := boxStyle.Width(leftWidth).Render(telemetryContent)

	workoutContent := m.renderWorkoutPanel(statsLabelStyle, statsValueStyle, errorStyle, headerStyle)
	workoutStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusWeight || m.focusedField == focusReps {
		workoutStyle = focusedBoxStyle.Width(rightWidth)
	}
	workoutPanel := workoutStyle.Render(workoutContent)

	// Join panels horizontally
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, telemetryPanel, " ", workoutPanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

func (m controlModel) renderTelemetry(statsLabelStyle, statsValueStyle, errorStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	s.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Trainer:"), deviceLabel(m.device)))
	if m.firmware != "" {
		s.WriteString(headerStyle.Render(fmt.Sprintf("  fw %s", m.firmware)))
	}
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("%s %s\n\n",
		statsLabelStyle.Render("State:"),
		statsValueStyle.Render(veeproto.FormatMachineState(m.machState))))

	if !m.haveSample {
		s.WriteString(headerStyle.Render("No motion data yet"))
		s.WriteString("\n")
	} else {
		s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Load:"), statsValueStyle.Render(fmt.Sprintf("%6.2f kg", m.sample.Load)),
			statsLabelStyle.Render("Power:"), statsValueStyle.Render(fmt.Sprintf("%6.1f W", m.sample.Power))))
		s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Pos: "), statsValueStyle.Render(fmt.Sprintf("%6.1f mm", m.sample.Position)),
			statsLabelStyle.Render("Vel:  "), statsValueStyle.Render(fmt.Sprintf("%6.1f mm/s", m.sample.Velocity))))
		s.WriteString(fmt.Sprintf("%s %.1fmm %.1fmm/s %.2fkg\n",
			statsLabelStyle.Render("A:"), m.sample.CableA.Position, m.sample.CableA.Velocity, m.sample.CableA.Load))
		s.WriteString(fmt.Sprintf("%s %.1fmm %.1fmm/s %.2fkg\n",
			statsLabelStyle.Render("B:"), m.sample.CableB.Position, m.sample.CableB.Velocity, m.sample.CableB.Load))
	}
	s.WriteString("\n")

	if m.haveRep {
		s.WriteString(fmt.Sprintf("%s %s set / %s session   %s J\n",
			statsLabelStyle.Render("Reps:"),
			statsValueStyle.Render(strconv.Itoa(m.lastRep.SetReps)),
			statsValueStyle.Render(strconv.Itoa(m.lastRep.SessionReps)),
			statsValueStyle.Render(strconv.FormatUint(uint64(m.lastRep.WorkJoules), 10))))
	}
	if m.haveHeur {
		s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Form:"), statsValueStyle.Render(fmt.Sprintf("%d/100", m.heur.FormScore)),
			statsLabelStyle.Render("Suggest:"), statsValueStyle.Render(fmt.Sprintf("%+.2f kg", m.heur.LoadDeltaKg))))
	}
	if m.fault != veeproto.FaultNone {
		s.WriteString(errorStyle.Render(fmt.Sprintf("FAULT: %s detail=0x%04X",
			veeproto.FormatFaultCode(m.fault), m.faultDetail)))
		s.WriteString("\n")
	}

	return s.String()
}

func (m controlModel) renderWorkoutPanel(statsLabelStyle, statsValueStyle, errorStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	// Mode selector
	modeText := fmt.Sprintf("< %s >", veeproto.FormatTrainingMode(modeCycle[m.modeIdx]))
	if m.focusedField == focusMode {
		modeText = statsValueStyle.Render(modeText)
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Mode:  "), modeText))

	// Weight input
	s.WriteString(statsLabelStyle.Render("Weight:"))
	s.WriteString(" ")
	if m.focusedField == focusWeight {
		s.WriteString(m.weightInput.View())
	} else {
		val := m.weightInput.Value()
		if val == "" {
			val = m.weightInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString(" kg per cable\n")

	// Rep target
	if m.justLift {
		s.WriteString(fmt.Sprintf("%s open ended (just lift)\n", statsLabelStyle.Render("Reps:  ")))
	} else {
		s.WriteString(statsLabelStyle.Render("Reps:  "))
		s.WriteString(" ")
		if m.focusedField == focusReps {
			s.WriteString(m.repsInput.View())
		} else {
			val := m.repsInput.Value()
			if val == "" {
				val = m.repsInput.Placeholder
			}
			s.WriteString(fmt.Sprintf("[%s]", val))
		}
		s.WriteString("\n")
	}
	s.WriteString("\n")

	s.WriteString(headerStyle.Render("enter=program  s=start  x=stop  o=soft stop"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("j=just lift  r=record  d=disconnect"))

	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	totalErrors := m.stats.LengthErrors + m.stats.DecodeErrors + m.stats.UnknownCharInput

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Errors:"), func() string {
			if totalErrors > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", totalErrors))
			}
			return statsValueStyle.Render("0")
		}(),
		statsLabelStyle.Render("Gaps:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.SequenceGaps)),
		statsLabelStyle.Render("Reps:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Reps)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Calculate available height for log
	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) handleDeviceFound(adv link.Advertisement) {
	for i := range m.devices {
		if m.devices[i].ID == adv.ID {
			// Keep the best of what both sightings carry
			if adv.Name == "" {
				adv.Name = m.devices[i].Name
			}
			m.devices[i] = adv
			m.updateDeviceList()
			return
		}
	}

	m.devices = append(m.devices, adv)
	m.updateDeviceList()
	m.addLogEntry(fmt.Sprintf("Found %s", deviceLabel(adv)), false)
}

func (m *controlModel) handleFrame(fr link.Frame) {
	if fr.Err != nil {
		m.stats.Update(nil, fr.Err, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", fr.Err), true)
		return
	}

	issues := veeproto.ValidateEvent(fr.Event)
	m.stats.Update(fr.Event, nil, issues)
	for i := range issues {
		m.addLogEntry(issues[i].Message, true)
	}

	switch ev := fr.Event.(type) {
	case veeproto.Sample:
		m.sample = ev
		m.haveSample = true

	case veeproto.RepEvent:
		m.lastRep = ev
		m.haveRep = true
		m.addLogEntry(veeproto.FormatEvent(ev), false)

	case veeproto.ModeChange:
		if ev.State != m.machState {
			m.addLogEntry(fmt.Sprintf("Trainer state: %s", veeproto.FormatMachineState(ev.State)), false)
		}
		m.machState = ev.State

	case veeproto.VersionInfo:
		m.firmware = ev.Firmware

	case veeproto.Heuristic:
		m.heur = ev
		m.haveHeur = true

	case veeproto.Diagnostic:
		m.addLogEntry(fmt.Sprintf("Firmware: %s", ev.Line), false)

	case veeproto.Fault:
		m.fault = ev.Code
		m.faultDetail = ev.Detail
		if ev.Code != veeproto.FaultNone {
			m.addLogEntry(veeproto.FormatEvent(ev), true)
		}
	}
}

func (m *controlModel) handleLinkState(sc link.StateChange) {
	m.linkState = sc.To

	switch sc.To {
	case link.StateReady:
		info := m.bridge.m.Info()
		m.device = info.Device
		m.firmware = info.Firmware
		m.view = viewControl
		m.connecting = false
		m.haveSample = false
		m.haveRep = false
		m.haveHeur = false
		m.fault = veeproto.FaultNone
		m.addLogEntry(fmt.Sprintf("Connected to %s", deviceLabel(m.device)), false)

	case link.StateDisconnected:
		if m.view == viewControl && sc.Reason != nil {
			m.addLogEntry(fmt.Sprintf("Link down: %v", sc.Reason), true)
		}
		m.haveSample = false
	}
}

func (m *controlModel) handleRecording(msg recordingMsg) {
	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("Recording: %v", msg.err), true)
		return
	}

	m.recording = msg.active
	if msg.active {
		m.sessionID = msg.sessionID
		m.addLogEntry(fmt.Sprintf("Recording session %s", shortID(msg.sessionID)), false)
	} else {
		m.addLogEntry(fmt.Sprintf("Session %s saved", shortID(msg.sessionID)), false)
	}
}

func (m *controlModel) handleSupervisorStopped(msg supervisorStoppedMsg) (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}

	switch {
	case msg.err == nil,
		errors.Is(msg.err, context.Canceled),
		errors.Is(msg.err, link.ErrClosed):
		m.addLogEntry("Disconnected", false)
	default:
		m.addLogEntry(fmt.Sprintf("Link gave up: %v", msg.err), true)
	}

	m.view = viewDiscovery
	m.connecting = false
	m.linkState = link.StateDisconnected
	m.haveSample = false
	m.devices = m.devices[:0]
	m.updateDeviceList()
	m.scanning = true
	return m, m.bridge.startScanCmd()
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := controlLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) getSelectedDevice() *link.Advertisement {
	if len(m.devices) == 0 {
		return nil
	}

	idx := m.deviceList.Index()
	if idx < 0 || idx >= len(m.devices) {
		return nil
	}

	return &m.devices[idx]
}

func (m *controlModel) updateDeviceList() {
	items := make([]list.Item, len(m.devices))
	for i, d := range m.devices {
		items[i] = deviceItem{adv: d}
	}
	m.deviceList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	// Adjust list size based on terminal size
	listWidth := m.width - 8
	if listWidth > 60 {
		listWidth = 60
	}
	if listWidth < 24 {
		listWidth = 24
	}
	listHeight := m.height - 14
	if listHeight < 6 {
		listHeight = 6
	}
	m.deviceList.SetSize(listWidth, listHeight)
}

func deviceLabel(adv link.Advertisement) string {
	if adv.Name != "" {
		return fmt.Sprintf("%s [%s]", adv.Name, adv.ID)
	}
	return string(adv.ID)
}
