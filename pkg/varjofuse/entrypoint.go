package varjofuse

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/gokit/systemdinstaller"
	"github.com/function61/varjo/pkg/logtee"
	"github.com/spf13/cobra"
)

func Entrypoint() *cobra.Command {
	configPath := ConfigFilename
	unmountFirst := false
	stopIfStdinCloses := false

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Mounts the mirror and serves the control API",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			// writes to upstream all end up in stderr, but logTail.Snapshot() only
			// returns the last "capacity" lines
			sink, logTail := logtee.NewTail(os.Stderr, 100)
			rootLogger := logex.StandardLoggerTo(sink)

			ctx, cancel := context.WithCancel(osutil.CancelOnInterruptOrTerminate(
				rootLogger))
			defer cancel()

			if stopIfStdinCloses {
				registerStdinCloseAsCancellationSignal(cancel, rootLogger)
			}

			conf, err := ReadConfig(configPath)
			osutil.ExitIfError(err)

			osutil.ExitIfError(serve(ctx, conf, unmountFirst, rootLogger, logTail))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", configPath, "Path to config file")
	cmd.Flags().BoolVarP(&unmountFirst, "unmount-first", "u", unmountFirst, "Umount the mount-path first (maybe unclean shutdown previously)")
	cmd.Flags().BoolVarP(&stopIfStdinCloses, "stop-if-stdin-closes", "", stopIfStdinCloses, "Stop the server if stdin closes (= detect if parent process dies)")

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs systemd unit file to make the mirror start on system boot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			serviceFile := systemdinstaller.SystemdServiceFile(
				"varjo",
				"Varjo shadow filesystem",
				systemdinstaller.Args("serve", "--config", configPath),
				systemdinstaller.Docs("https://github.com/function61/varjo", "https://function61.com/"))

			osutil.ExitIfError(systemdinstaller.Install(serviceFile))

			fmt.Println(systemdinstaller.GetHints(serviceFile))
		},
	})

	return cmd
}

func registerStdinCloseAsCancellationSignal(cancel context.CancelFunc, logger *log.Logger) {
	go func() {
		// wait for stdin EOF (or otherwise broken pipe)
		_, _ = io.Copy(io.Discard, os.Stdin)

		logex.Levels(logger).Error.Println(
			"parent process died (detected by closed stdin) - stopping")

		cancel()
	}()
}
