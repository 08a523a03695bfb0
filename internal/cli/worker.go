package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaiso/taskgraph/internal/telemetry"
	"github.com/shaiso/taskgraph/internal/worker"
)

// NewWorkerCmd создаёт скрытую команду worker.
//
// Её запускает оркестратор: stdin — входящая очередь, stdout — очередь
// результатов, stderr — поток логов. --log-level и --shm-dir приходят
// через общие флаги корневой команды.
func NewWorkerCmd() *cobra.Command {
	var id, returnThreshold int
	var runID string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run a worker process (started by the orchestrator)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			shmDir, _ := cmd.Flags().GetString("shm-dir")

			return worker.ServeStdio(cmd.Context(), worker.ServeConfig{
				ID:              id,
				RunID:           runID,
				Registry:        NewRegistry(),
				ShmDir:          shmDir,
				ReturnThreshold: returnThreshold,
				LogLevel:        telemetry.ParseLevel(level),
			})
		},
	}

	cmd.Flags().IntVar(&id, "id", 0, "worker id")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().IntVar(&returnThreshold, "return-threshold", worker.DefaultReturnThreshold, "results larger than this go through shared memory")
	return cmd
}
