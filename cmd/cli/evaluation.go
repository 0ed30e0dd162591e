package cli

// evaluation.go is the CLI surface over core.EvaluationEngine, following the
// same create/register/vote/tally shape as dao_proposal.go but against the
// evaluation lifecycle's five phases instead of a single voting window.

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	core "synnergy-evaluation/core"
)

func parseCSVInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

var evalCmd = &cobra.Command{
	Use:               "eval",
	Short:             "Confidential group evaluations",
	PersistentPreRunE: runtimeInit,
}

var evalCreateCmd = &cobra.Command{
	Use:   "create <registration-ts> <deliberation-ts> <submission-ts> <finish-by-ts> <allowed-group-sizes> <num-options>",
	Short: "Create a new evaluation owned by the current sender",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		useHooks, _ := cmd.Flags().GetBool("use-hooks")
		reg, err := parseUint32(args[0])
		if err != nil {
			return err
		}
		delib, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		sub, err := parseUint32(args[2])
		if err != nil {
			return err
		}
		finish, err := parseUint32(args[3])
		if err != nil {
			return err
		}
		sizes, err := parseCSVInts(args[4])
		if err != nil {
			return err
		}
		numOptions, err := strconv.Atoi(args[5])
		if err != nil {
			return err
		}
		id, err := evalEngine.Create(reg, delib, sub, finish, sizes, numOptions, useHooks)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "evaluation_id=%d\n", id)
		return nil
	},
}

var evalSetKeyCmd = &cobra.Command{
	Use:   "setkey <pubkey-hex>",
	Short: "Publish or rotate the caller's X25519 public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := hexDecode(args[0])
		if err != nil {
			return err
		}
		return evalEngine.SetKey(pub)
	},
}

var evalRegisterCmd = &cobra.Command{
	Use:   "register <owner> <id> <registrant>",
	Short: "Register an account for an evaluation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, err := parseOwnerID(args[0], args[1])
		if err != nil {
			return err
		}
		registrant, err := acDecodeAddr(args[2])
		if err != nil {
			return err
		}
		return evalEngine.Register(owner, id, registrant)
	},
}

var evalUnregisterCmd = &cobra.Command{
	Use:   "unregister <owner> <id> <registrant>",
	Short: "Unregister an account from an evaluation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, err := parseOwnerID(args[0], args[1])
		if err != nil {
			return err
		}
		registrant, err := acDecodeAddr(args[2])
		if err != nil {
			return err
		}
		return evalEngine.Unregister(owner, id, registrant)
	},
}

var evalStartCmd = &cobra.Command{
	Use:   "start <owner> <id>",
	Short: "Partition registrants into groups and begin deliberation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, err := parseOwnerID(args[0], args[1])
		if err != nil {
			return err
		}
		return evalEngine.Start(owner, id)
	},
}

var evalGroupKeyCmd = &cobra.Command{
	Use:   "groupkey <owner> <id> <hash>",
	Short: "Submit the group's wrapped symmetric key witness hash",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, err := parseOwnerID(args[0], args[1])
		if err != nil {
			return err
		}
		return evalEngine.GroupKey(owner, id, nil, args[2])
	},
}

var evalProposeCmd = &cobra.Command{
	Use:   "propose <owner> <id> <ciphertext-hex>",
	Short: "Submit the caller's encrypted ranking ciphertext",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, err := parseOwnerID(args[0], args[1])
		if err != nil {
			return err
		}
		ct, err := hexDecode(args[2])
		if err != nil {
			return err
		}
		return evalEngine.Propose(owner, id, ct)
	},
}

var evalAttestCmd = &cobra.Command{
	Use:   "attest <owner> <id> <attestation-csv>",
	Short: "Submit the caller's decrypted attestation ranking",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, err := parseOwnerID(args[0], args[1])
		if err != nil {
			return err
		}
		attestation, err := parseCSVInts(args[2])
		if err != nil {
			return err
		}
		return evalEngine.Attest(owner, id, attestation)
	},
}

var evalCloseCmd = &cobra.Command{
	Use:   "close <owner> <id>",
	Short: "Close or abort an evaluation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, err := parseOwnerID(args[0], args[1])
		if err != nil {
			return err
		}
		return evalEngine.Close(owner, id)
	},
}

var evalReputationCmd = &cobra.Command{
	Use:   "reputation <addr>",
	Short: "Show an account's current reputation score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := acDecodeAddr(args[0])
		if err != nil {
			return err
		}
		score, err := sharedRep.Get(sharedHost.Store(), addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", score)
		return nil
	},
}

func parseOwnerID(ownerHex, idStr string) (core.Address, uint64, error) {
	owner, err := acDecodeAddr(ownerHex)
	if err != nil {
		return owner, 0, err
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return owner, 0, fmt.Errorf("invalid evaluation id: %w", err)
	}
	return owner, id, nil
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func init() {
	registerRuntimeFlags(evalCmd)
	evalCreateCmd.Flags().Bool("use-hooks", false, "route register/attest/group-finalize through owner service hooks")
	evalCmd.AddCommand(evalCreateCmd, evalSetKeyCmd, evalRegisterCmd, evalUnregisterCmd,
		evalStartCmd, evalGroupKeyCmd, evalProposeCmd, evalAttestCmd, evalCloseCmd, evalReputationCmd)
}

// EvalCmd exports the root command.
var EvalCmd = evalCmd
