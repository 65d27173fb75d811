package kv

import (
	"bufio"
	"fmt"
	"github.com/ValentinKolb/tKV/cmd/util"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/spf13/cobra"
	"io"
	"os"
	"strings"
)

var txnCmd = &cobra.Command{
	Use:   "txn [file]",
	Short: "Runs a script of operations in one transaction",
	Long: `Runs a script of operations in one transaction and commits it at the end.
The script is read from file or stdin, one operation per line:

  kvs NAME         operate on KVS NAME from now on
  put KEY VALUE    put a pair
  get KEY          print the value of a key
  del KEY          delete a key
  pdel PREFIX      delete every key starting with PREFIX
  probe PREFIX     print the prefix probe of PREFIX
  scan [FILTER]    print the pairs visible to the transaction
  abort            abort the transaction and stop

Empty lines and lines starting with # are ignored. If an operation fails the
transaction is aborted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := io.Reader(os.Stdin)
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		ops, err := parseScript(r)
		if err != nil {
			return err
		}
		return runScript(os.Stdout, rpcStore, kvsName(), ops)
	},
}

// scriptOp is one line of a transaction script
type scriptOp struct {
	line int
	name string
	args [][]byte
}

// scriptArity maps the operations to their allowed argument counts
var scriptArity = map[string][2]int{
	"kvs":   {1, 1},
	"put":   {2, 2},
	"get":   {1, 1},
	"del":   {1, 1},
	"pdel":  {1, 1},
	"probe": {1, 1},
	"scan":  {0, 1},
	"abort": {0, 0},
}

// parseScript reads and validates a transaction script
func parseScript(r io.Reader) ([]scriptOp, error) {
	var ops []scriptOp
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		name := strings.ToLower(fields[0])
		arity, ok := scriptArity[name]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown operation %q", line, fields[0])
		}
		if n := len(fields) - 1; n < arity[0] || n > arity[1] {
			return nil, fmt.Errorf("line %d: %s takes %d to %d arguments, got %d", line, name, arity[0], arity[1], n)
		}

		op := scriptOp{line: line, name: name}
		for _, f := range fields[1:] {
			if name == "kvs" {
				op.args = append(op.args, []byte(f))
				continue
			}
			b, err := util.Decode(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			op.args = append(op.args, b)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

// runScript runs the operations in one transaction. The transaction is committed
// after the last operation unless the script aborts it or an operation fails.
func runScript(w io.Writer, s store.IStore, kvs string, ops []scriptOp) error {
	txn, err := s.TxnAlloc()
	if err != nil {
		return err
	}
	defer func() { _ = s.TxnFree(txn) }()

	if err := s.TxnBegin(txn); err != nil {
		return err
	}

	for _, op := range ops {
		if op.name == "abort" {
			if err := s.TxnAbort(txn); err != nil {
				return err
			}
			fmt.Fprintln(w, "aborted")
			return nil
		}
		if op.name == "kvs" {
			kvs = string(op.args[0])
			continue
		}
		if err := runOp(w, s, txn, kvs, op); err != nil {
			_ = s.TxnAbort(txn)
			return fmt.Errorf("line %d: %s failed, transaction aborted: %w", op.line, op.name, err)
		}
	}

	if err := s.TxnCommit(txn); err != nil {
		return err
	}
	fmt.Fprintln(w, "committed")
	return nil
}

func runOp(w io.Writer, s store.IStore, txn store.TxnID, kvs string, op scriptOp) error {
	switch op.name {
	case "put":
		return s.Put(txn, kvs, op.args[0], op.args[1])
	case "get":
		value, found, err := s.Get(txn, kvs, op.args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(w, "%s: found=false\n", util.Encode(op.args[0]))
		} else {
			fmt.Fprintf(w, "%s: found=true, value=%s\n", util.Encode(op.args[0]), util.Encode(value))
		}
		return nil
	case "del":
		return s.Delete(txn, kvs, op.args[0])
	case "pdel":
		n, err := s.PrefixDelete(txn, kvs, op.args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "removed=%d\n", n)
		return nil
	case "probe":
		res, err := s.PrefixProbe(txn, kvs, op.args[0])
		if err != nil {
			return err
		}
		printProbe(w, res)
		return nil
	case "scan":
		var filter []byte
		if len(op.args) == 1 {
			filter = op.args[0]
		}
		_, err := scan(w, s, txn, kvs, filter, scanOptions{})
		return err
	default:
		return fmt.Errorf("unknown operation %q", op.name)
	}
}
