// Command trapcore-host is the host-side CLI driving a connected
// controller board: load a machine description, connect to the MCU, and
// issue moves/homes/probes against the toolhead state machine. Replaces
// the teacher's hand-rolled flag-parsed interactive command loop
// (host/cmd/gopper-host/main.go) with a cobra command tree, as described
// in SPEC_FULL.md's domain-stack section.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"trapcore/config"
	"trapcore/events"
	"trapcore/gcode"
	"trapcore/host/mcu"
	"trapcore/host/serial"
)

var (
	flagDevice     string
	flagBaud       int
	flagConfigPath string
)

func main() {
	root := &cobra.Command{
		Use:   "trapcore-host",
		Short: "Host-side motion control CLI for a trapcore-wire MCU",
	}
	root.PersistentFlags().StringVar(&flagDevice, "device", "/dev/ttyUSB0", "serial device path")
	root.PersistentFlags().IntVar(&flagBaud, "baud", 250000, "serial baud rate")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "machine.yaml", "machine description file")

	root.AddCommand(
		newStatusCmd(),
		newHomeCmd(),
		newMoveCmd(),
		newProbeCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// connect loads the configured machine description, opens the serial
// link, retrieves the MCU dictionary, and assembles the object graph,
// mirroring the teacher's connect-then-identify sequence.
func connect() (*machine, error) {
	data, err := os.ReadFile(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, err
	}

	mcuConn := mcu.NewMCU()
	device := flagDevice
	if cfg.MCU.Port != "" {
		device = cfg.MCU.Port
	}
	serialCfg := serial.DefaultConfig(device)
	serialCfg.Baud = flagBaud
	if cfg.MCU.Baud != 0 {
		serialCfg.Baud = cfg.MCU.Baud
	}
	if err := mcuConn.ConnectWithConfig(serialCfg); err != nil {
		return nil, fmt.Errorf("connect to mcu: %w", err)
	}
	if err := mcuConn.RetrieveDictionary(); err != nil {
		return nil, fmt.Errorf("retrieve mcu dictionary: %w", err)
	}

	bus := events.New()
	bus.Subscribe(events.HomingMoveBegin, func(payload any) {
		fmt.Println("homing_move_begin", payload)
	})
	bus.Subscribe(events.HomingMoveEnd, func(payload any) {
		fmt.Println("homing_move_end", payload)
	})

	return buildMachine(cfg, mcuConn, bus)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print per-rail commanded and MCU position",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := connect()
			if err != nil {
				return err
			}
			defer m.mcuConn.Close()

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Rail", "Stepper", "Commanded (mm)", "MCU Position", "Homed"})
			for name, rail := range m.rails {
				lo, hi := rail.GetRange()
				homed := lo <= hi
				for _, s := range rail.Steppers() {
					table.Append([]string{
						name,
						s.Name,
						strconv.FormatFloat(s.CommandedPosition(), 'f', 3, 64),
						strconv.FormatInt(s.GetMCUPosition(), 10),
						strconv.FormatBool(homed),
					})
				}
			}
			table.Render()
			return nil
		},
	}
}

func newHomeCmd() *cobra.Command {
	var axes string
	cmd := &cobra.Command{
		Use:   "home",
		Short: "Home the named axes (default: all configured rails)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := connect()
			if err != nil {
				return err
			}
			defer m.mcuConn.Close()

			line := "G28"
			if axes != "" {
				line += " " + strings.ToUpper(axes)
			}
			parsed, err := gcode.NewParser().ParseLine(line)
			if err != nil {
				return err
			}
			return m.dispatch.Dispatch(parsed, line)
		},
	}
	cmd.Flags().StringVar(&axes, "axes", "", "axis letters to home, e.g. \"XY\" (default all)")
	return cmd
}

func newMoveCmd() *cobra.Command {
	var x, y, z, e, f float64
	var hasX, hasY, hasZ, hasE bool
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Issue a linear move to the given coordinates",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := connect()
			if err != nil {
				return err
			}
			defer m.mcuConn.Close()

			var b strings.Builder
			b.WriteString("G1")
			if hasX {
				fmt.Fprintf(&b, " X%g", x)
			}
			if hasY {
				fmt.Fprintf(&b, " Y%g", y)
			}
			if hasZ {
				fmt.Fprintf(&b, " Z%g", z)
			}
			if hasE {
				fmt.Fprintf(&b, " E%g", e)
			}
			if f > 0 {
				fmt.Fprintf(&b, " F%g", f)
			}
			line := b.String()
			parsed, err := gcode.NewParser().ParseLine(line)
			if err != nil {
				return err
			}
			if err := m.dispatch.Dispatch(parsed, line); err != nil {
				return err
			}
			m.toolhead.WaitMoves()
			return nil
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "target X")
	cmd.Flags().Float64Var(&y, "y", 0, "target Y")
	cmd.Flags().Float64Var(&z, "z", 0, "target Z")
	cmd.Flags().Float64Var(&e, "e", 0, "target E")
	cmd.Flags().Float64Var(&f, "f", 0, "feed rate, mm/min")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		hasX = cmd.Flags().Changed("x")
		hasY = cmd.Flags().Changed("y")
		hasZ = cmd.Flags().Changed("z")
		hasE = cmd.Flags().Changed("e")
	}
	return cmd
}

func newProbeCmd() *cobra.Command {
	var z, f float64
	var variant string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe toward -Z (or the given target) and report the trigger position",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := connect()
			if err != nil {
				return err
			}
			defer m.mcuConn.Close()

			line := fmt.Sprintf("%s Z%g F%g", variant, z, f)
			parsed, err := gcode.NewParser().ParseLine(line)
			if err != nil {
				return err
			}
			if err := m.dispatch.Dispatch(parsed, line); err != nil {
				return err
			}
			fmt.Println("trigger position:", m.toolhead.GetPosition())
			return nil
		},
	}
	cmd.Flags().Float64Var(&z, "z", -10, "probe target Z")
	cmd.Flags().Float64Var(&f, "f", 300, "probe feed rate, mm/min")
	cmd.Flags().StringVar(&variant, "variant", "G38.2", "probe variant (G38.2..G38.5)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Read G-code lines from stdin and dispatch them until EOF",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := connect()
			if err != nil {
				return err
			}
			defer m.mcuConn.Close()

			parser := gcode.NewParser()
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, ";") {
					continue
				}
				parsed, err := parser.ParseLine(line)
				if err != nil {
					fmt.Fprintln(os.Stderr, "parse error:", err)
					continue
				}
				if err := m.dispatch.Dispatch(parsed, line); err != nil {
					fmt.Fprintln(os.Stderr, "dispatch error:", err)
				}
			}
			m.toolhead.WaitMoves()
			return scanner.Err()
		},
	}
}
