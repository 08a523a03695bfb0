// taskgraph — параллельное выполнение графа задач на пуле воркеров.
//
// Использование:
//
//	taskgraph [--config FILE] [--workers N] [--json] <command> [flags]
//
// Команды:
//
//	scan     Сканировать папку и записать манифест хэшей
//	weights  Таблица весов задач
//
// Настройки читаются также из переменных TASKGRAPH_* (см. internal/config).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskgraph/internal/cli"
	"github.com/shaiso/taskgraph/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "taskgraph",
		Short:         "taskgraph — parallel task graph runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	configFn := func() (*config.Config, error) { return config.Load(rootCmd.PersistentFlags()) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewScanCmd(configFn, outputFn),
		cli.NewWeightsCmd(configFn, outputFn),
		cli.NewWorkerCmd(),
	)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
