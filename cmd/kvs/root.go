package kvs

import (
	"fmt"
	"github.com/ValentinKolb/tKV/cmd/util"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"os"
)

var (
	// KVSCommands represents the KVS command group
	KVSCommands = &cobra.Command{
		Use:   "kvs",
		Short: "Manage the KVS of a database",
		Long:  "Manage the KVS of a database. create, drop and list talk to a server, export and import open a KVDB home directly.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}

	createCmd = &cobra.Command{
		Use:   "create [name] [params...]",
		Short: "Create a KVS",
		Long:  "Create a KVS. Params are given as key=value (prefix.length, suffix.length).",
		Args:  cobra.MinimumNArgs(1),
		RunE: withStore(func(s store.IStore, args []string) error {
			if err := s.KVSCreate(args[0], args[1:]...); err != nil {
				return err
			}
			fmt.Printf("created %s\n", args[0])
			return nil
		}),
	}

	dropCmd = &cobra.Command{
		Use:   "drop [name]",
		Short: "Drop a KVS and all its keys",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(s store.IStore, args []string) error {
			if err := s.KVSDrop(args[0]); err != nil {
				return err
			}
			fmt.Printf("dropped %s\n", args[0])
			return nil
		}),
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the KVS of a database",
		Args:  cobra.NoArgs,
		RunE: withStore(func(s store.IStore, _ []string) error {
			names, err := s.KVSNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}),
	}

	exportCmd = &cobra.Command{
		Use:   "export [home] [kvs] [file]",
		Short: "Write all pairs of a KVS to a dump file",
		Long:  "Write all pairs of a KVS, read from one snapshot, to a dump file. Without file (or with -) the dump is written to stdout.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithKVDB(args[0], func(db *kvdb.KVDB) error {
				kvs, err := db.KVSOpen(args[1])
				if err != nil {
					return err
				}
				defer func() { _ = kvs.Close() }()

				w, closeFn, err := output(fileArg(args))
				if err != nil {
					return err
				}
				n, err := kvs.Export(w)
				if cErr := closeFn(); err == nil {
					err = cErr
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "exported %d pairs\n", n)
				return nil
			})
		},
	}

	importCmd = &cobra.Command{
		Use:   "import [home] [kvs] [file]",
		Short: "Put all pairs of a dump file into a KVS",
		Long:  "Put all pairs of a dump file into a KVS. Without file (or with -) the dump is read from stdin. Existing keys are overwritten.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithKVDB(args[0], func(db *kvdb.KVDB) error {
				if viper.GetBool("create") {
					err := db.KVSCreate(args[1], viper.GetStringSlice("kvs-param")...)
					if err != nil && kvdb.CodeOf(err) != kvdb.CodeExists {
						return err
					}
				}
				kvs, err := db.KVSOpen(args[1])
				if err != nil {
					return err
				}
				defer func() { _ = kvs.Close() }()

				r, closeFn, err := input(fileArg(args))
				if err != nil {
					return err
				}
				defer closeFn()

				n, err := kvs.Import(r)
				if err != nil {
					return fmt.Errorf("import failed after %d pairs: %w", n, err)
				}
				fmt.Fprintf(os.Stderr, "imported %d pairs\n", n)
				return nil
			})
		},
	}
)

func init() {
	util.SetupRPCClientFlags(KVSCommands, 1)
	util.SetupKVDBFlags(exportCmd)
	util.SetupKVDBFlags(importCmd)

	importCmd.Flags().Bool("create", false, util.WrapString("Create the KVS if it does not exist"))
	importCmd.Flags().StringSlice("kvs-param", nil, util.WrapString("Params of a created KVS as key=value (e.g. prefix.length=4)"))

	KVSCommands.AddCommand(createCmd)
	KVSCommands.AddCommand(dropCmd)
	KVSCommands.AddCommand(listCmd)
	KVSCommands.AddCommand(exportCmd)
	KVSCommands.AddCommand(importCmd)
}

// withStore connects to the configured database before running fn
func withStore(fn func(s store.IStore, args []string) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		s, t, err := util.NewRPCStore()
		if err != nil {
			return err
		}
		defer func() { _ = t.Close() }()
		return fn(s, args)
	}
}

func fileArg(args []string) string {
	if len(args) < 3 {
		return "-"
	}
	return args[2]
}

func output(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func input(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
