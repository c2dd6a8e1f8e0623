package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/cyacd-flasher/internal/bootclient"
	"github.com/bigbag/cyacd-flasher/internal/config"
	"github.com/bigbag/cyacd-flasher/internal/cyacd"
	"github.com/bigbag/cyacd-flasher/internal/session"
	"github.com/bigbag/cyacd-flasher/internal/transport"
	"github.com/bigbag/cyacd-flasher/internal/transport/can"
	"github.com/bigbag/cyacd-flasher/internal/transport/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cfg config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "cycld <image.cyacd>",
		Short: "Flash .cyacd firmware images to PSoC bootloader devices",
		Long: `cycld programs Cypress/Infineon PSoC devices running the standard
bootloader, over a serial port or a CAN bus.

The device must already be running its bootloader (or be reset into it
while cycld retries EnterBootloader; see -r).`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &config.UsageError{Msg: "expected exactly one image file argument"}
			}
			return nil
		},
		RunE:          runFlash,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.SerialPort, "serial", "", "Serial port to use, e.g. /dev/ttyACM0")
	flags.IntVar(&cfg.SerialBaudrate, "serial_baudrate", config.DefaultSerialBaudrate, "Serial baud rate")
	flags.StringVar(&cfg.Parity, "parity", "N", "Serial parity: N, E or O")
	flags.IntVar(&cfg.StopBits, "stopbits", 1, "Serial stop bits: 1 or 2")

	flags.StringVar(&cfg.CANDriver, "canbus", "", "CAN driver to use (socketcan)")
	flags.StringVar(&cfg.CANChannel, "canbus_channel", "", "CAN channel, e.g. can0")
	flags.IntVar(&cfg.CANBitrate, "canbus_baudrate", config.DefaultCANBitrate, "CAN bitrate (recorded; socketcan sets it at link level)")
	flags.Uint32Var(&cfg.CANID, "canbus_id", config.DefaultCANID, "CAN frame id of the device")
	flags.Uint32Var(&cfg.CANBroadcastID, "canbus_broadcast_id", 0, "Additional CAN id to accept responses from")
	flags.Uint32Var(&cfg.CANWildcardID, "canbus_wildcard_id", 0, "Accept responses from any CAN id")
	flags.BoolVar(&cfg.CANEcho, "canbus_echo", false, "Driver echoes transmitted frames back to the host")

	flags.Float64Var(&cfg.TimeoutSecs, "timeout", config.DefaultTimeoutSecs, "Per-command response timeout in seconds")
	flags.BoolVar(&cfg.Erase, "erase", false, "Erase every image row before programming")
	flags.BoolVar(&cfg.Downgrade, "downgrade", false, "Program even if the device has a newer app version")
	flags.BoolVar(&cfg.NoDowngrade, "nodowngrade", false, "Refuse to program over a newer app version without prompting")
	flags.BoolVar(&cfg.NewApp, "newapp", false, "Program even if the device has a different app id")
	flags.BoolVar(&cfg.NoNewApp, "nonewapp", false, "Refuse to program over a different app id without prompting")
	flags.IntVarP(&cfg.ChunkSize, "chunk", "c", config.DefaultChunkSize, "SendData chunk size: 16, 32, 64 or 128")
	flags.Float64VarP(&cfg.RepetitiveSecs, "repetitive", "r", config.DefaultRepetitiveSecs, "Seconds to keep retrying EnterBootloader (0 = single try, negative = forever)")
	flags.BoolVar(&cfg.Resync, "resync", false, "Send SyncBootloader before entering, to recover a dirty device buffer")
	flags.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the image against the device without erasing or programming")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log full diagnostic detail to stderr")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports and CAN interfaces",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cycld %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(listCmd, versionCmd)

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.UsageError{Msg: err.Error()}
	})

	if err := rootCmd.Execute(); err != nil {
		var ue *config.UsageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "cycld: %v\nRun 'cycld --help' for usage.\n", err)
			os.Exit(2)
		}
		colorstring.Fprintf(os.Stderr, "[red]cycld: %v\n", err)
		os.Exit(1)
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	cfg.ImagePath = args[0]
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
	logrus.SetOutput(os.Stderr)

	img, err := cyacd.Parse(cfg.ImagePath)
	if err != nil {
		return &session.ImageParseError{Err: err}
	}
	fmt.Printf("Image: %s (%d rows, silicon 0x%08X rev %d, %s)\n",
		cfg.ImagePath, len(img.Rows), img.SiliconID, img.SiliconRev, img.ChecksumKind)

	t, err := openTransport()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := bootclient.New(t, img.ChecksumKind)
	client.SetTimeout(cfg.Timeout())

	opts := cfg.SessionOptions()
	opts.Confirmer = &session.TerminalConfirmer{In: os.Stdin, Out: os.Stderr}
	opts.Logger = logrus.StandardLogger()
	opts.OnEvent = newEventRenderer()

	fmt.Println("Connecting to bootloader...")
	result, err := session.Run(ctx, client, img, opts)
	if err != nil {
		var canceled *session.Canceled
		if errors.As(err, &canceled) || ctx.Err() != nil {
			return fmt.Errorf("aborted: %w", err)
		}
		return err
	}

	if cfg.DryRun {
		colorstring.Printf("[green]Dry run ok:[reset] image fits the device, nothing was programmed\n")
		return nil
	}

	summary := fmt.Sprintf("%d rows programmed", result.RowsProgrammed)
	if result.PacketErrors > 0 {
		summary += fmt.Sprintf(", %d packet errors recovered", result.PacketErrors)
	}
	colorstring.Printf("[green]Flash complete:[reset] %s\n", summary)
	return nil
}

func openTransport() (transport.Transport, error) {
	if cfg.SerialPort != "" {
		t, err := serial.Open(cfg.SerialConfig())
		if err != nil {
			return nil, err
		}
		fmt.Printf("Port: %s @ %d baud\n", cfg.SerialPort, cfg.SerialConfig().BaudRate)
		return t, nil
	}

	t, err := can.Open(cfg.CANConfig())
	if err != nil {
		return nil, err
	}
	fmt.Printf("CAN: %s id 0x%03X\n", cfg.CANChannel, cfg.CANConfig().DeviceID)
	return t, nil
}

// newEventRenderer turns session progress events into console output:
// one progress bar per erase/program pass, plain prints for the rest.
func newEventRenderer() session.EventFunc {
	var bar *progressbar.ProgressBar
	var barPhase string
	done := 0

	phaseBar := func(phase string, total int) *progressbar.ProgressBar {
		if bar != nil && barPhase == phase {
			return bar
		}
		if bar != nil {
			bar.Finish()
		}
		done = 0
		barPhase = phase
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription(phase),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100),
			progressbar.OptionClearOnFinish(),
		)
		return bar
	}

	return func(e session.Event) {
		switch ev := e.(type) {
		case session.EnteredBootloader:
			id := ev.Identity
			fmt.Printf("Entered bootloader: silicon 0x%08X rev %d, bootloader v%d.%d.%d (%d attempt(s))\n",
				id.SiliconID, id.SiliconRev,
				id.BootloaderVersion[0], id.BootloaderVersion[1], id.BootloaderVersion[2],
				ev.Attempts)
		case session.ArrayRange:
			fmt.Printf("Array %d: rows %d..%d\n", ev.Array, ev.First, ev.Last)
		case session.Erasing:
			b := phaseBar("Erasing", ev.Total)
			done++
			b.Set(done)
		case session.Programming:
			b := phaseBar("Programming", ev.Total)
			done++
			b.Set(done)
		case session.Verified:
			if bar != nil {
				bar.Finish()
				bar = nil
			}
			if ev.OK {
				fmt.Println("Application checksum verified")
			}
		case session.Rebooting:
			if bar != nil {
				bar.Finish()
				bar = nil
			}
			fmt.Println("Rebooting device...")
		}
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
	} else {
		fmt.Println("Available serial ports:")
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	var canIfaces []string
	for _, iface := range ifaces {
		if strings.HasPrefix(iface.Name, "can") || strings.HasPrefix(iface.Name, "vcan") {
			canIfaces = append(canIfaces, iface.Name)
		}
	}
	if len(canIfaces) == 0 {
		fmt.Println("No CAN interfaces found")
	} else {
		fmt.Println("Available CAN interfaces:")
		for _, name := range canIfaces {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}
