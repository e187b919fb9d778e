package varjofuseclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/varjo/pkg/varjoblock"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

const defaultAddr = ":8690"

func Entrypoints() []*cobra.Command {
	addr := defaultAddr

	cmds := []*cobra.Command{
		blockEntrypoint(&addr),
		statsEntrypoint(&addr),
		logsEntrypoint(&addr),
	}

	for _, cmd := range cmds {
		cmd.PersistentFlags().StringVarP(&addr, "addr", "", addr, "Control API address of the server (domainsocket:// supported)")
	}

	return cmds
}

func blockEntrypoint(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Manage blocked paths",
	}

	owner := "cli"

	cmd.AddCommand(&cobra.Command{
		Use:   "add [path]",
		Short: "Blocks lookups of a path until removed",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				return New(*addr).AddBlock(ctx, args[0], owner)
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [path]",
		Short: "Removes a block, waking up waiting lookups",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				return New(*addr).RemoveBlock(ctx, args[0], owner)
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Removes all blocks of the owner",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				removed, err := New(*addr).PurgeBlocks(ctx, owner)
				if err != nil {
					return err
				}

				fmt.Printf("removed %d block(s)\n", removed)
				return nil
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "Lists blocks",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				blocks, err := New(*addr).Blocks(ctx)
				if err != nil {
					return err
				}

				printTable(os.Stdout, []string{"Path", "Owner", "Created", "Waiters"}, blockRows(blocks))
				return nil
			}))
		},
	})

	cmd.PersistentFlags().StringVarP(&owner, "owner", "o", owner, "Owner of the blocks")

	return cmd
}

func statsEntrypoint(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Shows alias table and block statistics",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				stats, err := New(*addr).Stats(ctx)
				if err != nil {
					return err
				}

				u := func(val uint64) string { return strconv.FormatUint(val, 10) }
				i := strconv.Itoa

				printTable(os.Stdout, []string{"Metric", "Value"}, [][]string{
					{"Live nodes", i(stats.Alias.Live)},
					{"Idle nodes", i(stats.Idle)},
					{"Lookups", u(stats.Alias.Lookups)},
					{"Hits", u(stats.Alias.Hits)},
					{"Misses", u(stats.Alias.Misses)},
					{"Creation races", u(stats.Alias.Races)},
					{"Inserted", u(stats.Alias.Inserted)},
					{"Reclaimed", u(stats.Alias.Reclaimed)},
					{"Names too long", u(stats.Alias.NameTooLong)},
					{"Name buffers in use", strconv.FormatInt(stats.Alias.BuffersOutstanding, 10)},
					{"Active blocks", i(stats.Blocks.Active)},
					{"Waiting lookups", i(stats.Blocks.Waiting)},
					{"Total block waits", u(stats.Blocks.TotalWaits)},
				})
				return nil
			}))
		},
	}
}

func logsEntrypoint(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Shows the server's recent log lines",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				lines, err := New(*addr).Logs(ctx)
				if err != nil {
					return err
				}

				for _, line := range lines {
					fmt.Println(line)
				}
				return nil
			}))
		},
	}
}

func blockRows(blocks []varjoblock.Block) [][]string {
	return lo.Map(blocks, func(block varjoblock.Block, _ int) []string {
		return []string{
			block.Path,
			block.Owner,
			block.Created.Local().Format(time.RFC3339),
			strconv.Itoa(block.Waiters),
		}
	})
}

// human readable table for terminals, tab-separated for scripts
func printTable(output *os.File, header []string, rows [][]string) {
	if !isatty.IsTerminal(output.Fd()) {
		writeTabSeparated(output, rows)
		return
	}

	tbl := tablewriter.NewWriter(output)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetBorder(false)
	tbl.SetHeader(header)
	tbl.AppendBulk(rows)
	tbl.Render()
}

func writeTabSeparated(output io.Writer, rows [][]string) {
	for _, row := range rows {
		fmt.Fprintln(output, strings.Join(row, "\t"))
	}
}

func wrapWithStopSupport(fn func(ctx context.Context) error) error {
	return fn(osutil.CancelOnInterruptOrTerminate(logex.StandardLogger()))
}
