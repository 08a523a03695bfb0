package cli

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskgraph/internal/config"
)

// weightRow — строка таблицы весов в JSON-выводе.
type weightRow struct {
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
}

// weightTable — строки в порядке убывания веса.
type weightTable []weightRow

func (t weightTable) Headers() []string {
	return []string{"TASK", "SECONDS"}
}

func (t weightTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, w := range t {
		rows[i] = []string{w.Name, strconv.FormatFloat(w.Seconds, 'f', 4, 64)}
	}
	return rows
}

// NewWeightsCmd создаёт группу команд для таблицы весов.
func NewWeightsCmd(configFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect the task weight table",
	}

	cmd.AddCommand(newWeightsShowCmd(configFn, outputFn))
	return cmd
}

func newWeightsShowCmd(configFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show measured task durations, heaviest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			out := outputFn()

			store, closeStore, err := openWeightStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			table, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}

			list := make(weightTable, 0, len(table))
			for name, seconds := range table {
				list = append(list, weightRow{Name: name, Seconds: seconds})
			}
			sort.Slice(list, func(i, j int) bool {
				if list[i].Seconds != list[j].Seconds {
					return list[i].Seconds > list[j].Seconds
				}
				return list[i].Name < list[j].Name
			})
			if top > 0 && len(list) > top {
				list = list[:top]
			}

			if err := out.Print(list); err != nil {
				return err
			}
			out.Note("%d of %d entries", len(list), len(table))
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 0, "show only the N heaviest tasks")
	return cmd
}
