package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"repomap"
	"repomap/criteria"
)

var (
	queryLimit   int
	queryOffset  int
	queryOrderBy string
	queryDesc    bool
)

var queryCmd = &cobra.Command{
	Use:   "query <collection> [criteria]",
	Short: "Find records matching a criteria map",
	Long: `Find records in a collection. Criteria are given as YAML/JSON, e.g.:

  repomap query users '{age:gte: 18, OR: [{country: PL}, {country: UK}]}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository(args[0])
		if err != nil {
			return err
		}
		conditions, err := parseCriteria(argAt(args, 1))
		if err != nil {
			return err
		}

		params := repomap.Params{Limit: queryLimit, Offset: queryOffset}
		if queryOrderBy != "" {
			params.OrderBy = []criteria.Order{{Field: queryOrderBy, Descending: queryDesc}}
		}

		entities, err := repo.Find(conditions, params)
		if err != nil {
			return err
		}

		rows := make([]map[string]any, len(entities))
		for i, e := range entities {
			rows[i] = e.Properties()
		}
		return printJSON(rows)
	},
}

var countCmd = &cobra.Command{
	Use:   "count <collection> [criteria]",
	Short: "Count records matching a criteria map",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository(args[0])
		if err != nil {
			return err
		}
		conditions, err := parseCriteria(argAt(args, 1))
		if err != nil {
			return err
		}
		count, err := repo.Count(conditions)
		if err != nil {
			return err
		}
		fmt.Println(count)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <collection> <criteria>",
	Short: "Delete records matching a criteria map",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository(args[0])
		if err != nil {
			return err
		}
		conditions, err := parseCriteria(args[1])
		if err != nil {
			return err
		}
		if len(conditions) == 0 {
			return fmt.Errorf("refusing to delete with empty criteria")
		}
		affected, err := repo.DeleteOnCriteria(conditions)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d\n", affected)
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum number of records")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "number of records to skip")
	queryCmd.Flags().StringVar(&queryOrderBy, "order-by", "", "field to order by")
	queryCmd.Flags().BoolVar(&queryDesc, "desc", false, "order descending")
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
