// Command avrispbridge runs the STK500v1-to-AVR-ISP translation bridge: it
// reads framed commands from a USB CDC-ACM gadget serial port and issues the
// corresponding SPI transactions against a target AVR, or lists the device
// profiles it recognizes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/daedaluz/avrispbridge/config"
	"github.com/daedaluz/avrispbridge/devprofile"
	"github.com/daedaluz/avrispbridge/gpiospi"
	"github.com/daedaluz/avrispbridge/hostio"
	"github.com/daedaluz/avrispbridge/isp"
	"github.com/daedaluz/avrispbridge/spi"
	"github.com/daedaluz/avrispbridge/spilink"
	"github.com/daedaluz/avrispbridge/stk500"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var configFile string

	root := &cobra.Command{
		Use:   "avrispbridge",
		Short: "STK500v1-to-AVR-ISP serial programming bridge",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file overlaying the defaults")
	root.PersistentFlags().StringVar(&cfg.SerialDevice, "serial-device", cfg.SerialDevice, "host-facing serial device (USB gadget tty)")
	root.PersistentFlags().StringVar((*string)(&cfg.Backend), "backend", string(cfg.Backend), "SPI back-end: hardware or software")
	root.PersistentFlags().StringVar(&cfg.SPIDevice, "spi-device", cfg.SPIDevice, "spidev device node (hardware backend)")
	root.PersistentFlags().Uint32Var(&cfg.SPISpeedHz, "spi-speed-hz", cfg.SPISpeedHz, "SPI clock rate (hardware backend)")
	root.PersistentFlags().StringVar(&cfg.ResetLine, "reset-line", cfg.ResetLine, "GPIO line driving target RESET")
	root.PersistentFlags().StringVar(&cfg.SCKLine, "sck-line", cfg.SCKLine, "GPIO line driving SCK (software backend)")
	root.PersistentFlags().StringVar(&cfg.MOSILine, "mosi-line", cfg.MOSILine, "GPIO line driving MOSI (software backend)")
	root.PersistentFlags().StringVar(&cfg.MISOLine, "miso-line", cfg.MISOLine, "GPIO line reading MISO (software backend)")
	root.PersistentFlags().IntVar(&cfg.BitHalfPeriodUs, "bit-half-period-us", cfg.BitHalfPeriodUs, "bit half-period in microseconds (software backend)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := config.LoadFile(&cfg, configFile); err != nil {
				return err
			}
		}
		return cfg.Validate()
	}

	root.AddCommand(newServeCmd(&cfg))
	root.AddCommand(newDevicesCmd())
	return root
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List known target device profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range devprofile.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s sig=%s flash=%d page=%d\n",
					p.Name, p.Signature, p.FlashBytes, p.PageBytes)
			}
			return nil
		},
	}
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge's event loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "avrispbridge"})
			lvl, err := log.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			logger.SetLevel(lvl)
			return serve(cmd.Context(), *cfg, logger, simulate)
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "serve over a PTY-backed gadget tty instead of the real USB gadget, for bring-up off hardware")
	return cmd
}

func openLink(cfg config.Config) (spilink.Link, error) {
	switch cfg.Backend {
	case config.BackendHardware:
		return spi.Open(spi.Config{
			Device:    cfg.SPIDevice,
			ResetLine: cfg.ResetLine,
			SpeedHz:   cfg.SPISpeedHz,
		})
	case config.BackendSoftware:
		return gpiospi.Open(gpiospi.Config{
			SCKLine:      cfg.SCKLine,
			MOSILine:     cfg.MOSILine,
			MISOLine:     cfg.MISOLine,
			ResetLine:    cfg.ResetLine,
			HalfPeriodUs: cfg.BitHalfPeriodUs,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openAdapter opens the real USB CDC-ACM gadget tty, or, under --simulate,
// a PTY pair standing in for it: the slave plays the gadget tty and the
// master is left for a host-side STK500v1 tool (e.g. avrdude) to attach to.
func openAdapter(cfg config.Config, logger *log.Logger, simulate bool) (*hostio.Adapter, error) {
	if !simulate {
		return hostio.OpenGadget(cfg.SerialDevice)
	}
	master, slave, err := hostio.OpenSimulatedGadget(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open simulated gadget: %w", err)
	}
	if err := slave.MakeRaw(); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("raw-mode simulated gadget: %w", err)
	}
	name, err := master.GetPTName()
	if err != nil {
		name = "(unresolved)"
	}
	logger.Info("simulate: attach a host-side STK500v1 tool to the master pty", "pty", name)
	return hostio.NewFromPort(slave), nil
}

// serve wires up the host adapter, SPI link, ISP driver and STK500v1
// parser/dispatcher, then runs the single-threaded cooperative event loop
// described in spec §5: poll the host for input, feed whatever arrived to
// the parser, dispatch every frame the parser can decode, repeat.
func serve(ctx context.Context, cfg config.Config, logger *log.Logger, simulate bool) error {
	link, err := openLink(cfg)
	if err != nil {
		return fmt.Errorf("open SPI link: %w", err)
	}
	defer link.Close()
	if err := link.Init(); err != nil {
		return fmt.Errorf("init SPI link: %w", err)
	}

	adapter, err := openAdapter(cfg, logger, simulate)
	if err != nil {
		return fmt.Errorf("open host adapter: %w", err)
	}
	defer adapter.Close()

	driver := isp.New(link)
	parser := stk500.NewParser(adapter)
	dispatcher := stk500.NewDispatcher(driver, adapter)

	logger.Info("bridge started", "serial", cfg.SerialDevice, "backend", cfg.Backend)

	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		default:
		}

		if adapter.Poll() == 0 {
			continue
		}
		n := adapter.Read(buf)
		if n == 0 {
			continue
		}
		parser.Feed(buf[:n])

		for {
			frame, ok := parser.Next()
			if !ok {
				break
			}
			logger.Debug("dispatching frame", "cmd", fmt.Sprintf("0x%02x", frame.Cmd), "state", dispatcher.State)
			if err := dispatcher.Dispatch(frame); err != nil {
				logger.Error("halting", "reason", err)
				return err
			}
		}
	}
}
