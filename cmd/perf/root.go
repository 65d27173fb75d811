package perf

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/tKV/cmd/util"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

var Logger = logger.GetLogger("perf")

var (
	// PerfCmd runs the benchmarks against a server
	PerfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for tKV servers",
		Long: `Runs parallel benchmarks against a served store database.

All benchmarks work on a fresh prefix KVS that is dropped afterward. Available
benchmarks: ` + strings.Join(benchmarkNames(), ", ") + `.`,
		PreRunE: processPerfConfig,
		RunE:    run,
	}
	perfConfig = benchConfig{}
	perfSkip   []string
)

func init() {
	util.SetupRPCClientFlags(PerfCmd, 1)

	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "ops"
	PerfCmd.Flags().Int(key, 10000, util.WrapString("Operations per benchmark, split across the threads"))
	key = "keys"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "value-size"
	PerfCmd.Flags().Int(key, 16, util.WrapString("Size of the values in bytes"))
	key = "large-value-size"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "kvs"
	PerfCmd.Flags().String(key, "__perf", util.WrapString("Name of the KVS created for the benchmarks, it must not exist"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	perfConfig = benchConfig{
		Threads:        viper.GetInt("threads"),
		Ops:            viper.GetInt("ops"),
		Keys:           viper.GetInt("keys"),
		ValueSize:      viper.GetInt("value-size"),
		LargeValueSize: viper.GetInt("large-value-size") * 1024,
		KVS:            viper.GetString("kvs"),
	}
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfConfig.LargeValueSize > kvdb.ValueLenMax {
		return fmt.Errorf("large-value-size exceeds the value limit of %d KB", kvdb.ValueLenMax/1024)
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	s, t, err := util.NewRPCStore()
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	fmt.Println("Performance testing tool for tKV servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Ops: %d, Keys: %d\n", perfConfig.Threads, perfConfig.Ops, perfConfig.Keys)
	fmt.Println()

	results, err := runAll(s, perfConfig, perfSkip, os.Stdout)
	if err != nil {
		return err
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// runAll creates the benchmark KVS, runs every benchmark not in skip and drops the KVS
func runAll(s store.IStore, config benchConfig, skip []string, w io.Writer) ([]result, error) {
	if err := s.KVSCreate(config.KVS, fmt.Sprintf("prefix.length=%d", prefixLength)); err != nil {
		return nil, fmt.Errorf("failed to create benchmark kvs %q: %w", config.KVS, err)
	}
	defer func() {
		if err := s.KVSDrop(config.KVS); err != nil {
			Logger.Warningf("failed to drop benchmark kvs %q: %v", config.KVS, err)
		}
	}()

	fmt.Fprintf(w, "%-12s%10s%12s%10s%10s%10s%10s%8s%10s\n", "test", "ops", "ops/sec", "mean", "p50", "p99", "max", "errors", "conflicts")
	results := make([]result, 0, len(benchmarks))
	for i, bm := range benchmarks {
		if slices.Contains(skip, bm.name) {
			res := result{Name: bm.name, Skipped: true}
			results = append(results, res)
			printResult(w, res)
			continue
		}
		res, err := runBenchmark(s, config, i, bm)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		printResult(w, res)
	}
	return results, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func benchmarkNames() []string {
	names := make([]string, len(benchmarks))
	for i, bm := range benchmarks {
		names[i] = bm.name
	}
	return names
}

func micros(us float64) string {
	return time.Duration(us * float64(time.Microsecond)).Round(time.Microsecond).String()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(w io.Writer, res result) {
	if res.Skipped {
		fmt.Fprintf(w, "%-12sskipped\n", res.Name)
		return
	}
	fmt.Fprintf(w, "%-12s%10d%12.0f%10s%10s%10s%10s%8d%10d\n",
		res.Name, res.Ops, res.OpsPerSec, micros(res.Mean), micros(res.P50), micros(res.P99),
		micros(float64(res.Max)), res.Errors, res.Conflicts)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []result, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	if err := writeCSV(file, results, config); err != nil {
		return err
	}
	return file.Close()
}

func writeCSV(w io.Writer, results []result, config *common.ClientConfig) error {
	writer := csv.NewWriter(w)

	header := []string{
		"Test", "Skipped", "Ops", "OpsPerSec", "MeanUs", "P50Us", "P90Us", "P99Us", "MaxUs", "Errors", "Conflicts",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"DatabaseID", "Serializer", "Transport",
		"Threads", "ValueSize", "LargeValueSize", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, res := range results {
		row := []string{
			res.Name,
			strconv.FormatBool(res.Skipped),
			strconv.FormatInt(res.Ops, 10),
			fmt.Sprintf("%.0f", res.OpsPerSec),
			fmt.Sprintf("%.1f", res.Mean),
			fmt.Sprintf("%.1f", res.P50),
			fmt.Sprintf("%.1f", res.P90),
			fmt.Sprintf("%.1f", res.P99),
			strconv.FormatInt(res.Max, 10),
			strconv.FormatInt(res.Errors, 10),
			strconv.FormatInt(res.Conflicts, 10),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetDatabaseID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfConfig.Threads),
			strconv.Itoa(perfConfig.ValueSize),
			strconv.Itoa(perfConfig.LargeValueSize),
			strconv.Itoa(perfConfig.Keys),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.Name, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
