package cli

// staged_tx.go - CLI surface over core.StagedTxEngine (C5). Mirrors the
// propose/vote/tally shape of dao_proposal.go but over the
// propose/accept/reject/delete/executed lifecycle of a multi-action staged
// transaction gated by its first-sender's auth service.

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	core "synnergy-evaluation/core"
)

func actionTx(firstSender core.Address, method string, actionArgs []byte) core.Tx {
	return core.Tx{Actions: []core.TxAction{{Sender: firstSender, Method: method, Args: actionArgs}}}
}

var stagedTxCmd = &cobra.Command{
	Use:               "stagedtx",
	Short:             "Staged multi-action transactions",
	PersistentPreRunE: runtimeInit,
}

var stagedTxProposeCmd = &cobra.Command{
	Use:   "propose <first-sender> <method> <args-hex>",
	Short: "Propose a single-action staged transaction and implicitly accept it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		firstSender, err := acDecodeAddr(args[0])
		if err != nil {
			return err
		}
		actionArgs, err := hexDecode(args[2])
		if err != nil {
			return err
		}
		tx := actionTx(firstSender, args[1], actionArgs)
		id, err := stagedEngine.Propose(tx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "staged_tx_id=%d\n", id)
		return nil
	},
}

var stagedTxAcceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Accept a staged transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseStagedID(args[0])
		if err != nil {
			return err
		}
		return stagedEngine.Accept(id)
	},
}

var stagedTxRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a staged transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseStagedID(args[0])
		if err != nil {
			return err
		}
		return stagedEngine.Reject(id)
	},
}

var stagedTxDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a staged transaction (proposer or auth service only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseStagedID(args[0])
		if err != nil {
			return err
		}
		return stagedEngine.Delete(id)
	},
}

var stagedTxExecutedCmd = &cobra.Command{
	Use:   "executed <id>",
	Short: "Mark a staged transaction executed (auth service only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseStagedID(args[0])
		if err != nil {
			return err
		}
		return stagedEngine.Executed(id)
	},
}

var stagedTxAuthSetCmd = &cobra.Command{
	Use:   "auth-set <account> <service>",
	Short: "Register the auth service responsible for an account's staged transactions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := acDecodeAddr(args[0])
		if err != nil {
			return err
		}
		service, err := acDecodeAddr(args[1])
		if err != nil {
			return err
		}
		sharedAuth.Set(account, service)
		return nil
	},
}

func parseStagedID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func init() {
	registerRuntimeFlags(stagedTxCmd)
	stagedTxCmd.AddCommand(stagedTxProposeCmd, stagedTxAcceptCmd, stagedTxRejectCmd,
		stagedTxDeleteCmd, stagedTxExecutedCmd, stagedTxAuthSetCmd)
}

// StagedTxCmd exports the root command.
var StagedTxCmd = stagedTxCmd
