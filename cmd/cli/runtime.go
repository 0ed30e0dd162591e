package cli

// runtime.go holds shared CLI plumbing: a single FileStore-backed Host
// wired to the evaluation engine, the staged-tx engine, the access
// controller and the auth-service registry, all persisted under
// --state-dir so CLI invocations compose across separate process runs.
// Modeled on the sync.Once-guarded global init pattern seen in
// access_control.go and ledger.go.

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	core "synnergy-evaluation/core"
)

var log = logrus.New()

var (
	runtimeOnce sync.Once
	runtimeErr  error

	stateDir   string
	senderHex  string
	serviceHex string

	sharedHost     *core.MemHost
	sharedAccess   *core.AccessController
	sharedRep      *core.ReputationStore
	sharedAuth     *core.AuthServiceRegistry
	sharedResolver core.AccountResolver
	evalEngine     *core.EvaluationEngine
	stagedEngine   *core.StagedTxEngine
)

// accessResolver adapts AccessController to AccountResolver: an account is
// "known" once it has been granted any role, which the CLI demo treats as
// registering it with the runtime.
type accessResolver struct{ ac *core.AccessController }

func (r accessResolver) Exists(a core.Address) bool {
	roles, err := r.ac.ListRoles(a)
	return err == nil && len(roles) > 0
}

func runtimeInit(cmd *cobra.Command, _ []string) error {
	reqID := uuid.NewString()
	entry := log.WithField("request_id", reqID)
	entry.WithField("command", cmd.CommandPath()).Debug("cli invocation")

	runtimeOnce.Do(func() {
		store, err := core.OpenFileStore(filepath.Join(stateDir, "evaluation.kv"))
		if err != nil {
			entry.WithError(err).Error("failed to open state store")
			runtimeErr = err
			return
		}

		service, err := acDecodeAddr(serviceHex)
		if err != nil {
			runtimeErr = fmt.Errorf("invalid --service: %w", err)
			return
		}
		sender, err := acDecodeAddr(senderHex)
		if err != nil {
			runtimeErr = fmt.Errorf("invalid --sender: %w", err)
			return
		}

		sharedHost = core.NewMemHostWithStore(service, store)
		sharedHost.SetSender(sender)
		sharedHost.SetClock(uint32(time.Now().Unix()))

		sharedAccess = core.NewAccessController(store)
		sharedRep = core.NewReputationStore(0)
		sharedAuth = core.NewAuthServiceRegistry(service)
		sharedResolver = accessResolver{ac: sharedAccess}

		evalEngine = core.NewEvaluationEngine(sharedHost, sharedRep)
		stagedEngine = core.NewStagedTxEngine(sharedHost, sharedAuth, sharedResolver)
	})
	return runtimeErr
}

// registerRuntimeFlags attaches the shared --state-dir/--sender/--service
// flags to a command tree's root so every subcommand under it resolves to
// the same runtime once PersistentPreRunE fires.
func registerRuntimeFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", filepath.Join(".", "data", "cli"), "directory holding the CLI's persisted KV state")
	cmd.PersistentFlags().StringVar(&senderHex, "sender", "0x000000000000000000000000000000000000000a", "hex address acting as the call sender")
	cmd.PersistentFlags().StringVar(&serviceHex, "service", "0x000000000000000000000000000000000000000b", "hex address of this service/owner")
}
