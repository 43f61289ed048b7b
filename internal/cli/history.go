package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/config"
	"github.com/rudransh-shrivastava/peer-link/internal/db"
	"github.com/rudransh-shrivastava/peer-link/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newHistoryCmd() *cobra.Command {
	v := viper.New()
	var configFile string
	var limit int
	var peer string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past messages and transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			gdb, err := db.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(gdb) }()

			return printHistory(cmd, store.NewHistoryStore(gdb), peer, limit)
		},
	}

	config.BindDataDir(cmd, v)
	cmd.Flags().StringVar(&configFile, "config", "", "config file path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "entries to show of each kind (0 for all)")
	cmd.Flags().StringVarP(&peer, "peer", "p", "", "only show entries exchanged with this peer name")
	return cmd
}

func printHistory(cmd *cobra.Command, h store.HistoryReader, peer string, limit int) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	var (
		msgs      []db.Message
		transfers []db.Transfer
		err       error
	)
	if peer == "" {
		msgs, err = h.Messages(ctx, limit)
	} else {
		msgs, err = h.MessagesWith(ctx, peer, limit)
	}
	if err != nil {
		return fmt.Errorf("read messages: %w", err)
	}
	if peer == "" {
		transfers, err = h.Transfers(ctx, limit)
	} else {
		transfers, err = h.TransfersWith(ctx, peer, limit)
	}
	if err != nil {
		return fmt.Errorf("read transfers: %w", err)
	}

	fmt.Fprintln(out, "Messages:")
	if len(msgs) == 0 {
		fmt.Fprintln(out, "  none")
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "  %s %-8s %-16s %s\n", stamp(m.CreatedAt), m.Direction, m.Peer, m.Text)
	}

	fmt.Fprintln(out, "Transfers:")
	if len(transfers) == 0 {
		fmt.Fprintln(out, "  none")
	}
	for _, t := range transfers {
		printTransfer(out, t)
	}
	return nil
}

func printTransfer(out io.Writer, t db.Transfer) {
	status := "ok"
	if t.Error != "" {
		status = t.Error
	}
	fmt.Fprintf(out, "  %s %-8s %-16s %s (%d bytes) %s\n", stamp(t.CreatedAt), t.Direction, t.Peer, t.Path, t.Size, status)
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).Format(time.DateTime)
}
