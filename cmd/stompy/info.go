package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/stompy/pkg/config"
	"github.com/gwillem/stompy/pkg/leg"
	"github.com/gwillem/stompy/pkg/robot"
)

type InfoCommand struct {
	Ports     []string `short:"p" long:"port" description:"Leg port to query (repeatable); default is the configured ports"`
	ReportMS  uint32   `long:"report-ms" description:"Set the telemetry report period of each leg, in milliseconds"`
	ResetPIDs bool     `long:"reset-pids" description:"Clear the PID state of each leg"`
	IOnly     bool     `long:"i-only" description:"With --reset-pids, clear only the integrators"`
}

// legInfo is what a leg reports about its own configuration.
type legInfo struct {
	number int
	port   string
	tick   float64
	dither leg.Dither
	calf   leg.CalfScale
	joints []leg.JointConfig
	err    error
}

func (c *InfoCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.Default()
	}
	ports := c.Ports
	if len(ports) == 0 {
		ports = cfg.Ports()
	}
	if len(ports) == 0 {
		if ports, err = leg.Discover(); err != nil {
			return err
		}
	}
	if len(ports) == 0 {
		fmt.Println("No leg controllers found. Run 'stompy setup' first.")
		return leg.ErrNoLegs
	}

	legOpts := cfg.LegOptions()
	var infos []legInfo
	for _, port := range ports {
		infos = append(infos, c.readLegInfo(port, legOpts))
	}

	fmt.Println(headerStyle.Render("Legs"))
	fmt.Println(renderLegInfo(infos))
	for _, in := range infos {
		if in.err != nil {
			continue
		}
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("Leg " + config.LegLabel(in.number)))
		fmt.Println(renderJoints(in.joints))
	}
	return nil
}

func (c *InfoCommand) readLegInfo(port string, legOpts leg.Options) legInfo {
	in := legInfo{port: port}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Every leg gets its own timing so one bad tick does not hide the others.
	legOpts.Timing = leg.NewTiming()
	client, err := leg.Dial(ctx, port, legOpts)
	if err != nil {
		in.err = err
		return in
	}
	defer client.Close()
	in.number = client.Number()

	if err := c.apply(client); err != nil {
		in.err = err
		return in
	}

	if in.tick, err = client.ReadPlanTick(ctx); err != nil {
		in.err = err
		return in
	}
	if in.dither, err = client.ReadDither(ctx); err != nil {
		in.err = err
		return in
	}
	if in.calf, err = client.ReadCalfScale(ctx); err != nil {
		in.err = err
		return in
	}
	for _, j := range leg.Joints {
		jc, err := client.ReadJointConfig(ctx, j)
		if err != nil {
			in.err = fmt.Errorf("%s: %w", j, err)
			return in
		}
		in.joints = append(in.joints, jc)
	}
	return in
}

// apply sends the settings given on the command line before the read back.
func (c *InfoCommand) apply(client *leg.Client) error {
	if c.ReportMS > 0 {
		if err := client.SetReportTime(c.ReportMS); err != nil {
			return fmt.Errorf("report time: %w", err)
		}
	}
	if c.ResetPIDs {
		if err := client.ResetPIDs(c.IOnly); err != nil {
			return fmt.Errorf("reset pids: %w", err)
		}
	}
	return nil
}

func renderLegInfo(infos []legInfo) string {
	rows := make([][]string, 0, len(infos))
	for _, in := range infos {
		name := "?"
		if robot.ValidLeg(in.number) {
			name = config.LegLabel(in.number)
		}
		if in.err != nil {
			rows = append(rows, []string{name, in.port, "", "", "", in.err.Error()})
			continue
		}
		rows = append(rows, []string{
			name,
			in.port,
			fmt.Sprintf("%.0f ms", in.tick*1000),
			fmt.Sprintf("%d / %d", in.dither.Period, in.dither.Amplitude),
			fmt.Sprintf("%.4f, %.1f", in.calf.Slope, in.calf.Offset),
			"ok",
		})
	}
	errStyle := tableCellStyle.Foreground(lipgloss.Color("9"))
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Leg", "Port", "Plan tick", "Dither", "Calf scale", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch {
			case col == 0:
				return tableLegStyle
			case col == 5 && infos[row].err != nil:
				return errStyle
			}
			return tableCellStyle
		}).
		Render()
}

func renderJoints(joints []leg.JointConfig) string {
	rows := make([][]string, 0, len(joints))
	for _, j := range joints {
		rows = append(rows, []string{
			j.Joint.String(),
			fmt.Sprintf("%g / %g / %g", j.PID.P, j.PID.I, j.PID.D),
			fmt.Sprintf("%g..%g", j.PID.Min, j.PID.Max),
			fmt.Sprintf("%d..%d", j.PWMLimits.ExtendMin, j.PWMLimits.ExtendMax),
			fmt.Sprintf("%d..%d", j.PWMLimits.RetractMin, j.PWMLimits.RetractMax),
			fmt.Sprintf("%g..%g", j.ADCLimits.Min, j.ADCLimits.Max),
			fmt.Sprintf("%g", j.FollowingError),
		})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "P / I / D", "Output", "Extend", "Retract", "ADC", "Following").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 0 {
				return tableLegStyle
			}
			return tableCellStyle
		}).
		Render()
}
