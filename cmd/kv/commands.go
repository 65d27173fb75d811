package kv

import (
	"fmt"
	"github.com/ValentinKolb/tKV/cmd/util"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/spf13/cobra"
	"io"
	"os"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value, err := decodePair(args[0], args[1])
			if err != nil {
				return err
			}
			if err := rpcStore.Put(store.NoTxn, kvsName(), key, value); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := util.Decode(args[0])
			if err != nil {
				return err
			}
			value, found, err := rpcStore.Get(store.NoTxn, kvsName(), key)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("found=false")
				return nil
			}
			fmt.Printf("found=true, value=%s\n", util.Encode(value))
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := util.Decode(args[0])
			if err != nil {
				return err
			}
			if err := rpcStore.Delete(store.NoTxn, kvsName(), key); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	pdelCmd = &cobra.Command{
		Use:   "pdel [prefix]",
		Short: "Deletes every key starting with prefix",
		Long:  "Deletes every key starting with prefix. In a prefix KVS the prefix must have exactly the prefix length of the KVS.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := util.Decode(args[0])
			if err != nil {
				return err
			}
			n, err := rpcStore.PrefixDelete(store.NoTxn, kvsName(), prefix)
			if err != nil {
				return err
			}
			fmt.Printf("removed=%d\n", n)
			return nil
		},
	}
	probeCmd = &cobra.Command{
		Use:   "probe [prefix]",
		Short: "Reports whether zero, one or multiple keys start with prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := util.Decode(args[0])
			if err != nil {
				return err
			}
			res, err := rpcStore.PrefixProbe(store.NoTxn, kvsName(), prefix)
			if err != nil {
				return err
			}
			printProbe(os.Stdout, res)
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [filter]",
		Short: "Lists the pairs of the KVS",
		Long:  "Lists the pairs of the KVS whose keys start with filter (all pairs without filter) in key order.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []byte
			if len(args) == 1 {
				var err error
				if filter, err = util.Decode(args[0]); err != nil {
					return err
				}
			}
			opts, err := scanOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			_, err = scan(os.Stdout, rpcStore, store.NoTxn, kvsName(), filter, opts)
			return err
		},
	}
)

func init() {
	scanCmd.Flags().Bool("reverse", false, util.WrapString("Iterate in descending key order"))
	scanCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of pairs to print (0 for all)"))
	scanCmd.Flags().String("from", "", util.WrapString("Start at the first key at or past this key"))
	scanCmd.Flags().String("to", "", util.WrapString("Stop after this key, requires --from (forward scans only)"))
	scanCmd.Flags().Int("batch", 100, util.WrapString("Pairs read per request"))
}

// scanOptions control a cursor scan
type scanOptions struct {
	reverse bool
	limit   int
	from    []byte
	to      []byte
	batch   int
}

func scanOptionsFromFlags(cmd *cobra.Command) (scanOptions, error) {
	var opts scanOptions
	var err error
	if opts.reverse, err = cmd.Flags().GetBool("reverse"); err != nil {
		return opts, err
	}
	if opts.limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return opts, err
	}
	if opts.batch, err = cmd.Flags().GetInt("batch"); err != nil {
		return opts, err
	}
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	if to != "" && from == "" {
		return opts, fmt.Errorf("--to requires --from")
	}
	if from != "" {
		if opts.from, err = util.Decode(from); err != nil {
			return opts, err
		}
	}
	if to != "" {
		if opts.to, err = util.Decode(to); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// scan prints the pairs of a cursor to w and returns how many were printed
func scan(w io.Writer, s store.IStore, txn store.TxnID, kvs string, filter []byte, opts scanOptions) (int, error) {
	cur, err := s.CursorCreate(txn, kvs, filter, opts.reverse)
	if err != nil {
		return 0, err
	}
	defer func() { _ = s.CursorDestroy(cur) }()

	switch {
	case opts.to != nil:
		_, err = s.CursorSeekRange(cur, opts.from, opts.to)
	case opts.from != nil:
		_, err = s.CursorSeek(cur, opts.from)
	}
	if err != nil {
		return 0, err
	}

	batch := opts.batch
	if batch <= 0 {
		batch = 100
	}

	printed := 0
	for {
		n := batch
		if opts.limit > 0 && opts.limit-printed < n {
			n = opts.limit - printed
		}
		pairs, eof, err := s.CursorRead(cur, n)
		if err != nil {
			return printed, err
		}
		for _, p := range pairs {
			fmt.Fprintf(w, "%s\t%s\n", util.Encode(p.Key), util.Encode(p.Value))
		}
		printed += len(pairs)
		if eof || (opts.limit > 0 && printed >= opts.limit) {
			return printed, nil
		}
	}
}

func decodePair(k, v string) ([]byte, []byte, error) {
	key, err := util.Decode(k)
	if err != nil {
		return nil, nil, err
	}
	value, err := util.Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

func printProbe(w io.Writer, res kvdb.ProbeResult) {
	if res.Cardinality == kvdb.ProbeZero {
		fmt.Fprintf(w, "cardinality=%s\n", res.Cardinality)
		return
	}
	fmt.Fprintf(w, "cardinality=%s, key=%s, value=%s\n", res.Cardinality, util.Encode(res.Key), util.Encode(res.Value))
}
