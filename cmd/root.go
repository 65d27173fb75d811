package cmd

import (
	"fmt"
	"github.com/ValentinKolb/tKV/cmd/kv"
	"github.com/ValentinKolb/tKV/cmd/kvdb"
	"github.com/ValentinKolb/tKV/cmd/kvs"
	"github.com/ValentinKolb/tKV/cmd/lock"
	"github.com/ValentinKolb/tKV/cmd/perf"
	"github.com/ValentinKolb/tKV/cmd/serve"
	"github.com/ValentinKolb/tKV/cmd/util"
	libkvdb "github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/spf13/cobra"
	"os"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "tkv",
		Short: "transactional key-value database",
		Long: fmt.Sprintf(`tKV (%s)

A transactional key-value database written in Go. A KVDB holds named
key-value stores (KVS) that share one transaction domain. Transactions
use snapshot isolation, cursors can be bound to transactions.

Databases can be used locally (kvdb, kvs export/import) or served
over RPC (serve, kv, kvs, lock, perf).`, libkvdb.Version().String),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tKV",
		Run: func(cmd *cobra.Command, args []string) {
			v := libkvdb.Version()
			fmt.Printf("tKV %s (sha %s)\n", v.String, v.SHA)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kvdb.KVDBCommands)
	RootCmd.AddCommand(kvs.KVSCommands)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
