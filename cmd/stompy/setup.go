package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/stompy/pkg/config"
	"github.com/gwillem/stompy/pkg/leg"
	"github.com/gwillem/stompy/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableLegStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

type SetupCommand struct {
	CalfZero bool `long:"calf-zero" description:"Zero the calf load sensors without asking"`
	Yes      bool `short:"y" long:"yes" description:"Save without confirmation"`
}

// found is a leg answering on a port.
type found struct {
	port   string
	client *leg.Client
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("stompy setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	cfg := config.Default()
	if existing, err := loadConfig(); err == nil {
		cfg = existing
		fmt.Printf("Updating %s\n\n", configPath())
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	// Step 1: find the legs
	legs, err := scanForLegs(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, f := range legs {
			f.client.Close()
		}
	}()

	fmt.Println()
	fmt.Println(renderLegs(legs))
	fmt.Println()

	cfg.Legs = make(map[int]string, len(legs))
	for n, f := range legs {
		cfg.Legs[n] = f.port
	}
	for _, n := range robot.AllLegs() {
		if _, ok := legs[n]; !ok {
			fmt.Println(warnStyle.Render(fmt.Sprintf("Leg %s not found", config.LegLabel(n))))
		}
	}

	// Step 2: calf sensors
	zero := c.CalfZero
	if !zero {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title("Zero the calf load sensors now?").
				Description("Every foot must be off the ground.").
				Value(&zero),
		)).Run(); err != nil {
			fmt.Println()
			return nil
		}
	}
	if zero {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Zeroing calf sensors ━━━"))
		for _, n := range robot.SortedLegs(keys(legs)) {
			scale, err := zeroCalf(legs[n].client)
			if err != nil {
				fmt.Println(warnStyle.Render(fmt.Sprintf("  %s: %v", config.LegLabel(n), err)))
				continue
			}
			cfg.Calibration = ensureCalibration(cfg.Calibration)
			cfg.Calibration[n] = legs[n].client.Calibration()
			fmt.Printf("  %s: slope %.4f offset %.1f\n", config.LegLabel(n), scale.Slope, scale.Offset)
		}
	}

	// Step 3: save
	save := c.Yes
	if !save {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Save %d leg(s) to %s?", len(legs), configPath())).
				Affirmative("Save").
				Negative("Cancel").
				Value(&save),
		)).Run(); err != nil {
			fmt.Println()
			return nil
		}
	}
	if !save {
		fmt.Println(dimStyle.Render("Nothing saved."))
		return nil
	}
	if err := cfg.SaveTo(configPath()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", configPath())
	fmt.Println()
	fmt.Println("Start walking with: " + headerStyle.Render("stompy walk"))
	return nil
}

func scanForLegs(cfg *config.Config) (map[int]found, error) {
	fmt.Println("Scanning for legs...")

	ports, err := leg.Discover()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		fmt.Println("No leg controllers found.")
		fmt.Println("Make sure the legs are connected and powered on.")
		return nil, leg.ErrNoLegs
	}

	legOpts := cfg.LegOptions()
	legOpts.Timing = leg.NewTiming()
	legs := make(map[int]found)
	for _, port := range ports {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := leg.Dial(ctx, port, legOpts)
		cancel()
		if err != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %s: %v", port, err)))
			continue
		}
		if prev, ok := legs[client.Number()]; ok {
			client.Close()
			for _, f := range legs {
				f.client.Close()
			}
			return nil, fmt.Errorf("%w: %d on %s and %s", leg.ErrDuplicateLeg, client.Number(), prev.port, port)
		}
		fmt.Printf("  Found leg %s on %s\n", config.LegLabel(client.Number()), port)
		legs[client.Number()] = found{port: port, client: client}
	}
	if len(legs) == 0 {
		return nil, leg.ErrNoLegs
	}
	return legs, nil
}

// zeroCalf pumps telemetry until an ADC report arrives, then rescales the
// calf sensor so the current reading is zero load.
func zeroCalf(c *leg.Client) (leg.CalfScale, error) {
	deadline := time.Now().Add(2 * time.Second)
	for !c.Telemetry().ADC.Received() {
		if time.Now().After(deadline) {
			return leg.CalfScale{}, leg.ErrNoTelemetry
		}
		if err := c.Update(); err != nil {
			return leg.CalfScale{}, err
		}
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.ComputeCalfZero(ctx, 0, true)
}

func ensureCalibration(m map[int][]leg.Write) map[int][]leg.Write {
	if m == nil {
		return make(map[int][]leg.Write)
	}
	return m
}

func renderLegs(legs map[int]found) string {
	rows := make([][]string, 0, len(legs))
	for _, n := range robot.SortedLegs(keys(legs)) {
		rows = append(rows, []string{config.LegLabel(n), legs[n].port})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Leg", "Port").
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

func keys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	return out
}
