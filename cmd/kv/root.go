package kv

import (
	"github.com/ValentinKolb/tKV/cmd/util"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcStore     store.IStore
	rpcTransport transport.IRPCClientTransport

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value operations on a KVS",
		Long: `Perform key-value operations on a KVS of a served database.

Keys and values are taken literally, use --hex for binary data.`,
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	util.SetupRPCClientFlags(KeyValueCommands, 1)
	util.SetupEncodingFlags(KeyValueCommands)

	KeyValueCommands.PersistentFlags().String("kvs", "default", util.WrapString("Name of the KVS to operate on"))

	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(pdelCmd)
	KeyValueCommands.AddCommand(probeCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(txnCmd)
}

// setupKVClient initializes the RPC store client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcStore, rpcTransport, err = util.NewRPCStore()
	return err
}

func closeKVClient(*cobra.Command, []string) error {
	if rpcTransport == nil {
		return nil
	}
	return rpcTransport.Close()
}

func kvsName() string {
	return viper.GetString("kvs")
}
