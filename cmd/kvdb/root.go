package kvdb

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/tKV/cmd/util"
	engineUtil "github.com/ValentinKolb/tKV/lib/engine/util"
	libkvdb "github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/spf13/cobra"
	"os"
	"time"
)

var (
	// KVDBCommands represents the local KVDB command group
	KVDBCommands = &cobra.Command{
		Use:   "kvdb",
		Short: "Maintain KVDB homes on this machine",
		Long:  "Maintain KVDB homes on this machine. These commands open the home directly, so it must not be served at the same time.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}

	createCmd = &cobra.Command{
		Use:   "create [home] [params...]",
		Short: "Create a new KVDB",
		Long:  "Create a new KVDB at home. Params are given as key=value (e.g. durability.enabled=false).",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithRuntime(func() error {
				if err := libkvdb.Create(args[0], args[1:]...); err != nil {
					return err
				}
				fmt.Printf("created %s\n", args[0])
				return nil
			})
		},
	}

	dropCmd = &cobra.Command{
		Use:   "drop [home]",
		Short: "Remove a KVDB and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithRuntime(func() error {
				if err := libkvdb.Drop(args[0]); err != nil {
					return err
				}
				fmt.Printf("dropped %s\n", args[0])
				return nil
			})
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info [home]",
		Short: "Print information about a KVDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithKVDB(args[0], func(db *libkvdb.KVDB) error {
				info, err := db.Info()
				if err != nil {
					return err
				}
				names, err := db.KVSNames()
				if err != nil {
					return err
				}
				return printJSON(struct {
					libkvdb.Info
					KVS []string `json:"kvs"`
				}{info, names})
			})
		},
	}

	syncCmd = &cobra.Command{
		Use:   "sync [home]",
		Short: "Flush all writes of a KVDB to media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithKVDB(args[0], func(db *libkvdb.KVDB) error {
				if err := db.Sync(); err != nil {
					return err
				}
				fmt.Println("synced")
				return nil
			})
		},
	}

	compactCmd = &cobra.Command{
		Use:   "compact [home]",
		Short: "Compact all keyspaces of a KVDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithKVDB(args[0], func(db *libkvdb.KVDB) error {
				return compact(cmd.Context(), db, compactPoll)
			})
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats [home] [kvs]",
		Short: "Print the key and value size distribution of a KVS",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithKVDB(args[0], func(db *libkvdb.KVDB) error {
				kvs, err := db.KVSOpen(args[1])
				if err != nil {
					return err
				}
				defer func() { _ = kvs.Close() }()

				st, err := kvs.Stats()
				if err != nil {
					return err
				}
				printStats(st)
				return nil
			})
		},
	}

	compactPoll = 200 * time.Millisecond
)

func init() {
	util.SetupKVDBFlags(KVDBCommands)

	KVDBCommands.AddCommand(createCmd)
	KVDBCommands.AddCommand(dropCmd)
	KVDBCommands.AddCommand(infoCmd)
	KVDBCommands.AddCommand(syncCmd)
	KVDBCommands.AddCommand(compactCmd)
	KVDBCommands.AddCommand(statsCmd)
}

// compact starts a compaction and waits until it finished
func compact(ctx context.Context, db *libkvdb.KVDB, poll time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := db.Compact(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		status, err := db.CompactStatus()
		if err != nil {
			return err
		}
		if !status.Active {
			if status.Err != nil {
				return status.Err
			}
			fmt.Printf("compacted %d/%d keyspaces in %s\n", status.Done, status.Total, status.FinishedAt.Sub(status.StartedAt).Round(time.Millisecond))
			return nil
		}
		fmt.Printf("compacting... %d/%d\n", status.Done, status.Total)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStats(st libkvdb.Stats) {
	fmt.Printf("keys: %d\n", st.Keys)
	printHistogram("key size", st.KeySizes)
	printHistogram("value size", st.ValueSizes)
}

func printHistogram(name string, h *engineUtil.SizeHistogram) {
	minSize, maxSize := h.MinMax()
	fmt.Printf("%-12s min=%d avg=%d p50=%d p99=%d max=%d total=%d\n",
		name, minSize, h.Average(), h.Percentile(50), h.Percentile(99), maxSize, h.Sum())
}
