package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/RichardoC/tablechat/internal/session"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAskCmd(load loadFunc) *cobra.Command {
	var (
		vectorStoreID string
		databaseIDs   []string
		showQueries   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and stream the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, err := newComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer c.catalog.Close()

			if vectorStoreID == "" && len(databaseIDs) > 0 {
				if ids := c.catalog.VectorStoreIDs(); len(ids) > 0 {
					vectorStoreID = ids[0]
				}
			}
			if err := c.catalog.Validate(vectorStoreID, databaseIDs); err != nil {
				return err
			}

			s := session.New(uuid.NewString())
			conv, err := s.CreateConversation("ask", vectorStoreID, databaseIDs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			agent, err := c.agents.Get(ctx, s, conv.Title, conv.LastUpdate)
			if err != nil {
				logger.Error("Failed to create agent", zap.Error(err))
				return err
			}

			out := cmd.OutOrStdout()
			question := strings.Join(args, " ")
			_, err = agent.StreamChat(ctx, nil, question, func(_ context.Context, chunk []byte) error {
				_, err := out.Write(chunk)
				return err
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			if showQueries {
				latest, _ := s.Conversation(conv.Title)
				for _, q := range latest.QueryResults {
					fmt.Fprintf(out, "\n[%s] %s\n", q.DatabaseID, q.Query)
					fmt.Fprintln(out, strings.Join(q.Columns, ", "))
					for _, row := range q.Rows {
						fmt.Fprintln(out, strings.Join(row, ", "))
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&vectorStoreID, "vector-store", "", "vector store id (defaults to the first configured)")
	cmd.Flags().StringSliceVar(&databaseIDs, "db", nil, "database ids to query")
	cmd.Flags().BoolVar(&showQueries, "show-queries", false, "print the SQL the agent ran")
	return cmd
}
