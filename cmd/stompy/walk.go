package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/stompy/pkg/config"
	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/leg"
	"github.com/gwillem/stompy/pkg/record"
	"github.com/gwillem/stompy/pkg/robot"
	"github.com/gwillem/stompy/pkg/telemetry"
	"github.com/gwillem/stompy/pkg/walk"
)

type WalkCommand struct {
	Hz       int       `long:"hz" description:"Leg update rate (default from config)"`
	Simulate bool      `long:"simulate" description:"Walk six simulated legs instead of the configured ports"`
	Headless bool      `long:"headless" description:"Print status lines instead of the TUI"`
	Record   string    `long:"record" description:"Record the session to this sqlite file"`
	Listen   string    `long:"listen" description:"Serve the websocket telemetry feed on this address"`
	Broker   string    `long:"mqtt" description:"Publish telemetry to this MQTT broker"`
	Stance   float64   `long:"stance" default:"0" description:"Headless: stance magnitude (-1..1) to walk at"`
	Turn     bool      `long:"turn" description:"Headless: turn in place instead of walking straight"`
	Estop    leg.Estop `long:"estop" default:"hard" choice:"soft" choice:"hard" choice:"hold" description:"Estop level raised on every leg by the stop key"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2
	tableHeight  = 10
	footerHeight = 7 // log box
	maxLogs      = 5
	borderSize   = 2

	magnitudeStep = 0.1
	scalarStep    = 0.1
)

// straightCenter is a rotation center far to the left; rotating about it
// moves the feet close to straight along x.
var straightCenter = [2]float64{0, 1000}

var legColors = map[int]string{
	robot.FrontRight:  "196", // red
	robot.MiddleRight: "208", // orange
	robot.RearRight:   "226", // yellow
	robot.RearLeft:    "46",  // green
	robot.MiddleLeft:  "51",  // cyan
	robot.FrontLeft:   "201", // magenta
}

var stateColors = map[gait.State]string{
	gait.StateStance: "10",
	gait.StateWait:   "14",
	gait.StateLift:   "11",
	gait.StateSwing:  "11",
	gait.StateLower:  "11",
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	offStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func (c *WalkCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && c.Simulate:
		cfg = config.Default()
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'stompy setup' first, or walk with --simulate.")
		return err
	default:
		return err
	}
	if c.Hz > 0 {
		cfg.Hz = c.Hz
	}
	if c.Record != "" {
		cfg.Record = c.Record
	}
	if c.Listen != "" {
		cfg.Telemetry.Listen = c.Listen
	}
	if c.Broker != "" {
		cfg.Telemetry.Broker = c.Broker
	}

	ports := cfg.Ports()
	legOpts := cfg.LegOptions()
	legOpts.Timing = leg.NewTiming()
	if c.Simulate {
		ports = nil
		legOpts.Simulate = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	legs, err := leg.Connect(ctx, ports, legOpts)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, n := range robot.SortedLegs(keys(legs)) {
		logrus.WithField("leg", legs[n].Name()).Info("connected")
	}
	if tick, ok := legOpts.Timing.Tick(); ok {
		logrus.WithField("tick", tick).Info("plan tick")
	}

	ctrl, err := walk.NewController(legs, walk.Config{
		Hz:     cfg.Hz,
		Gait:   cfg.Gait,
		Timing: legOpts.Timing,
	})
	if err != nil {
		leg.Close(legs)
		return err
	}

	if cfg.Record != "" {
		rec, err := record.Open(cfg.Record)
		if err != nil {
			leg.Close(legs)
			return err
		}
		defer rec.Close()
		rec.Attach(ctrl.Legs(), ctrl.Body())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Telemetry.Enabled() {
		stopTelemetry, err := startTelemetry(runCtx, cfg.Telemetry, ctrl)
		if err != nil {
			leg.Close(legs)
			return err
		}
		defer stopTelemetry()
	}

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Start(runCtx)
	}()

	if c.Headless {
		err = c.runHeadless(runCtx, ctrl)
	} else {
		p := tea.NewProgram(initialWalkModel(ctrl, c.Estop), tea.WithAltScreen(), tea.WithContext(runCtx))
		_, err = p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			err = nil
		}
	}

	cancel()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		logrus.WithError(runErr).Error("walk")
	}
	for _, l := range drainLogs(ctrl) {
		fmt.Println(statusStyle.Render(l))
	}
	return err
}

// startTelemetry serves the websocket feed and connects to the MQTT broker
// as configured, publishing controller snapshots until ctx is done.
func startTelemetry(ctx context.Context, cfg telemetry.Config, ctrl *walk.Controller) (func(), error) {
	var sinks []telemetry.Sink
	var closers []func()
	stop := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Broker != "" {
		m, err := telemetry.DialMQTT(cfg.Broker, cfg.Topic)
		if err != nil {
			return nil, err
		}
		detach := m.Attach(ctrl.Body())
		closers = append(closers, func() { detach(); m.Close() })
		sinks = append(sinks, m)
	}
	if cfg.Listen != "" {
		hub := telemetry.NewHub()
		srv := &http.Server{Addr: cfg.Listen, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second}
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			stop()
			return nil, fmt.Errorf("telemetry listen: %w", err)
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("telemetry server")
			}
		}()
		logrus.WithField("addr", ln.Addr().String()).Info("telemetry feed")
		closers = append(closers, func() {
			hub.Close()
			srv.Close()
		})
		sinks = append(sinks, hub)
	}

	go telemetry.Run(ctx, cfg.Interval, ctrl.Snapshot, sinks...)
	return stop, nil
}

func drainLogs(ctrl *walk.Controller) []string {
	var out []string
	for {
		select {
		case l := <-ctrl.Logs():
			out = append(out, l)
		default:
			return out
		}
	}
}

// targetFor turns a stance magnitude into a body target about center.
func targetFor(body *gait.Body, center [2]float64, magnitude float64) gait.Target {
	return gait.Target{
		RotationCenter: center,
		Speed:          body.CalcStanceSpeed(center, magnitude),
	}
}

func (c *WalkCommand) runHeadless(ctx context.Context, ctrl *walk.Controller) error {
	if err := ctrl.Enable(); err != nil {
		return err
	}
	center := straightCenter
	if c.Turn {
		center = [2]float64{}
	}
	if err := ctrl.SetTarget(targetFor(ctrl.Body(), center, c.Stance)); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var last walk.State
	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-ctrl.Logs():
			fmt.Println(l)
		case s := <-ctrl.States():
			last = s
			if s.Error != nil {
				fmt.Println(offStyle.Render(s.Error.Error()))
			}
		case <-ticker.C:
			if last.Legs != nil {
				fmt.Println(statusLine(last))
			}
		}
	}
}

func statusLine(s walk.State) string {
	var sb strings.Builder
	sb.WriteString(s.Timestamp.Format("15:04:05"))
	switch {
	case !s.Body.Enabled:
		sb.WriteString(" disabled")
	case s.Body.Halted:
		sb.WriteString(" halted")
	default:
		sb.WriteString(" walking")
	}
	for _, n := range robot.SortedLegs(keys(s.Legs)) {
		ls := s.Legs[n]
		fmt.Fprintf(&sb, " %s:%s/%.2f", ls.Name, ls.Foot, ls.Restriction)
		if ls.Estop != leg.EstopOff {
			fmt.Fprintf(&sb, "!%s", ls.Estop)
		}
	}
	return sb.String()
}

type walkModel struct {
	ctrl      *walk.Controller
	chart     *streamlinechart.Model
	width     int
	height    int
	logs      []string
	quitting  bool
	state     walk.State
	turn      bool
	magnitude float64
	scalar    float64
	estop     leg.Estop
}

func (m *walkModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg walk.State
type logMsg string

func waitForState(ctrl *walk.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *walk.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *walkModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 12
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - tableHeight - footerHeight - borderSize
	if height < 6 {
		height = 6
	}
	return width, height
}

func initialWalkModel(ctrl *walk.Controller, estop leg.Estop) walkModel {
	gaitCfg := ctrl.Body().Snapshot().Config
	chart := streamlinechart.New(80, 12,
		streamlinechart.WithYRange(0, math.Max(1, gaitCfg.RMax*1.2)),
	)
	for n := range ctrl.Legs() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(legColors[n]))
		chart.SetDataSetStyles(robot.LegName(n), runes.ThinLineStyle, style)
	}
	return walkModel{
		ctrl:   ctrl,
		chart:  &chart,
		scalar: gaitCfg.SpeedScalar,
		estop:  estop,
	}
}

func (m walkModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m walkModel) center() [2]float64 {
	if m.turn {
		return [2]float64{}
	}
	return straightCenter
}

func (m *walkModel) applyTarget() {
	t := targetFor(m.ctrl.Body(), m.center(), m.magnitude)
	if err := m.ctrl.SetTarget(t); err != nil {
		m.addLog(err.Error())
	}
}

func (m walkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "e":
			if err := m.ctrl.Enable(); err != nil {
				m.addLog(err.Error())
			}
		case "d":
			m.ctrl.Disable()
		case "h":
			m.ctrl.Halt()
		case "x", "esc":
			m.ctrl.Disable()
			if err := m.ctrl.SetEstop(m.estop); err != nil {
				m.addLog(err.Error())
			}
		case "up":
			m.magnitude = math.Min(1, m.magnitude+magnitudeStep)
			m.applyTarget()
		case "down":
			m.magnitude = math.Max(-1, m.magnitude-magnitudeStep)
			m.applyTarget()
		case " ":
			m.magnitude = 0
			m.applyTarget()
		case "t":
			m.turn = !m.turn
			m.applyTarget()
		case "+", "=":
			m.scalar += scalarStep
			if err := m.ctrl.SetSpeed(m.scalar); err != nil {
				m.addLog(err.Error())
			}
		case "-":
			m.scalar = math.Max(0, m.scalar-scalarStep)
			if err := m.ctrl.SetSpeed(m.scalar); err != nil {
				m.addLog(err.Error())
			}
		}
		return m, nil

	case stateMsg:
		m.state = walk.State(msg)
		if m.state.Error != nil {
			m.addLog(m.state.Error.Error())
		}
		for n, ls := range m.state.Legs {
			m.chart.PushDataSet(robot.LegName(n), ls.Restriction)
		}
		m.chart.DrawAll()
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m walkModel) View() string {
	if m.quitting {
		return "Walk stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("stompy walk"))
	sb.WriteString(fmt.Sprintf(" - %d Hz  ", m.ctrl.Hz()))
	body := m.state.Body
	switch {
	case !body.Enabled:
		sb.WriteString(offStyle.Render("DISABLED"))
	case body.Halted:
		sb.WriteString(offStyle.Render("HALTED"))
	default:
		sb.WriteString(onStyle.Render("WALKING"))
	}
	mode := "straight"
	if m.turn {
		mode = "turn"
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  %s %+.1f  x%.1f  %s", mode, m.magnitude, m.scalar, body.Target)))
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend(m.ctrl.Legs()))
	sb.WriteString("\n")

	sb.WriteString(renderLegTable(m.state))
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("e enable  d disable  h halt  x estop  ↑/↓ stance  space stop  t turn  +/- speed  q quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend(legs map[int]leg.Controller) string {
	var items []string
	for _, n := range robot.SortedLegs(keys(legs)) {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(legColors[n])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+robot.LegName(n))
	}
	return strings.Join(items, "  ")
}

func renderLegTable(s walk.State) string {
	nums := robot.SortedLegs(keys(s.Legs))
	rows := make([][]string, 0, len(nums))
	for _, n := range nums {
		ls := s.Legs[n]
		xyz := ls.XYZ.Value
		rows = append(rows, []string{
			config.LegLabel(n),
			ls.Estop.String(),
			ls.Foot.String(),
			fmt.Sprintf("%.2f", ls.Restriction),
			fmt.Sprintf("%6.1f %6.1f %6.1f", xyz.X, xyz.Y, xyz.Z),
			fmt.Sprintf("%d", ls.Errors),
		})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers("Leg", "Estop", "Foot", "R", "X Y Z", "Errors").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			ls := s.Legs[nums[row]]
			switch col {
			case 0:
				return tableLegStyle
			case 1:
				if ls.Estop != leg.EstopOff {
					return tableCellStyle.Foreground(lipgloss.Color("9"))
				}
			case 2:
				if c, ok := stateColors[ls.Foot]; ok {
					return tableCellStyle.Foreground(lipgloss.Color(c))
				}
			case 5:
				if ls.Stopped {
					return tableCellStyle.Foreground(lipgloss.Color("9"))
				}
			}
			return tableCellStyle
		}).
		Render()
}
