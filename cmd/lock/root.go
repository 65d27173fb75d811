package lock

import (
	"encoding/hex"
	"fmt"
	"github.com/ValentinKolb/tKV/cmd/util"
	"github.com/ValentinKolb/tKV/lib/lockmgr"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/spf13/cobra"
	"time"
)

var (
	rpcLockMgr     lockmgr.ILockManager
	rpcTransport   transport.IRPCClientTransport
	acquireTimeout uint64

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		Long:               "Perform lock operations on a lockmgr database. Lock expiry is measured with the clock of the server.",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long:  "Acquire a lock. On success the owner ID needed to release it is printed as hex string.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the hex string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// lock databases default to id 2, see the serve defaults
	util.SetupRPCClientFlags(LockCommands, 2)

	acquireCmd.Flags().Uint64Var(&acquireTimeout, "expire", 30, util.WrapString("Lock expiry in seconds (0 for no expiry)"))
	acquireCmd.Flags().Duration("wait", 0, util.WrapString("Keep trying to acquire a held lock for this long (e.g. 5s)"))
}

// setupLockClient initializes the lock manager client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcLockMgr, rpcTransport, err = util.NewRPCLockMgr()
	return err
}

func closeLockClient(*cobra.Command, []string) error {
	if rpcTransport == nil {
		return nil
	}
	return rpcTransport.Close()
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	wait, err := cmd.Flags().GetDuration("wait")
	if err != nil {
		return err
	}

	acquired, ownerID, err := acquire(rpcLockMgr, args[0], acquireTimeout, wait)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		fmt.Println("acquired=false")
		return nil
	}
	fmt.Printf("acquired=true, ownerId=%s\n", hex.EncodeToString(ownerID))
	return nil
}

// acquire tries to take the lock until it succeeds or wait has passed
func acquire(locks lockmgr.ILockManager, key string, expire uint64, wait time.Duration) (bool, []byte, error) {
	deadline := time.Now().Add(wait)
	backoff := 10 * time.Millisecond
	for {
		acquired, ownerID, err := locks.AcquireLock(key, expire)
		if err != nil || acquired {
			return acquired, ownerID, err
		}
		if time.Now().Add(backoff).After(deadline) {
			return false, nil, nil
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, time.Second)
	}
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	ownerID, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid owner ID format: %v", err)
	}

	released, err := rpcLockMgr.ReleaseLock(args[0], ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	fmt.Printf("released=%v\n", released)
	return nil
}
