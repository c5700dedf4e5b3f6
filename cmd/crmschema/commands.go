package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/tricyclecrm/internal/config"
	"github.com/JonMunkholm/tricyclecrm/internal/crm"
	"github.com/JonMunkholm/tricyclecrm/internal/database"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
)

const execTimeout = 2 * time.Minute

func newSQLCmd(v *viper.Viper) *cobra.Command {
	var isNew bool
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Print the schema DDL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSchema(v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), s.RenderFullScript(isNew))
			return err
		},
	}
	cmd.Flags().BoolVar(&isNew, "new", false, "render the full script for an empty database")
	return cmd
}

func newTypesCmd(v *viper.Viper) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Print TypeScript types for every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSchema(v)
			if err != nil {
				return err
			}
			src := s.RenderDatabaseTypesSource()
			if out == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), src)
				return err
			}
			if err := os.WriteFile(out, []byte(src), 0o644); err != nil {
				return fmt.Errorf("write types: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// tableFlags are shared by add-table and update-table.
type tableFlags struct {
	columns []string
	apply   bool
}

func (f *tableFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.columns, "column", "c", nil,
		"column as name:type[:notnull][:pk][:serial][:default=expr][:references=table(col)], repeatable")
	cmd.Flags().BoolVar(&f.apply, "apply", false, "execute the generated SQL against the database")
}

func newAddTableCmd(v *viper.Viper) *cobra.Command {
	var f tableFlags
	cmd := &cobra.Command{
		Use:   "add-table NAME",
		Short: "Add an entity table and print its CREATE SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableChange(cmd, v, f, func(s *schema.Schema, cols schema.Columns) schema.Result {
				return s.AddEntityTable(args[0], cols)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newUpdateTableCmd(v *viper.Viper) *cobra.Command {
	var f tableFlags
	cmd := &cobra.Command{
		Use:   "update-table NAME",
		Short: "Add columns to a table and print the ALTER SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(f.columns) == 0 {
				return errors.New("at least one --column is required")
			}
			return runTableChange(cmd, v, f, func(s *schema.Schema, cols schema.Columns) schema.Result {
				return s.UpdateEntityTable(args[0], cols)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func runTableChange(cmd *cobra.Command, v *viper.Viper, f tableFlags, change func(*schema.Schema, schema.Columns) schema.Result) error {
	cols, err := parseColumns(f.columns)
	if err != nil {
		return err
	}
	s, err := loadSchema(v)
	if err != nil {
		return err
	}

	res := change(s, cols)
	fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.Message)
	}
	if !res.NeedsExecution {
		return nil
	}
	if _, err := fmt.Fprint(cmd.OutOrStdout(), res.SQL); err != nil {
		return err
	}
	if !f.apply {
		return nil
	}

	return withExecutor(cmd.Context(), v, func(ctx context.Context, exec schema.Executor) error {
		if err := exec.ExecuteSQL(ctx, res.SQL); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "applied")
		return nil
	})
}

func newSyncCmd(v *viper.Viper) *cobra.Command {
	var rpc bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply the full schema script to the database once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSchema(v)
			if err != nil {
				return err
			}
			if rpc {
				v.Set(keySyncMode, config.SyncModeRPC)
			}
			return withExecutor(cmd.Context(), v, func(ctx context.Context, exec schema.Executor) error {
				res := s.SyncDatabaseSchema(ctx, exec)
				fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
				if !res.Success {
					return errors.New("schema sync failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&rpc, "rpc", false, "send the script through the server-side function instead of running it directly")
	return cmd
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that every import entity maps onto schema columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSchema(v)
			if err != nil {
				return err
			}
			if err := crm.DefaultRegistry().CheckSchema(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d tables, %d import entities\n",
				s.TableCount(), len(crm.DefaultRegistry().All()))
			return nil
		},
	}
}

// withExecutor opens a small pool for one command and closes it afterwards.
func withExecutor(ctx context.Context, v *viper.Viper, fn func(context.Context, schema.Executor) error) error {
	url := v.GetString(keyDatabaseURL)
	if url == "" {
		return errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := database.Open(ctx, config.DatabaseConfig{
		URL:             url,
		MaxConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	exec := database.Executor(pool, config.SchemaConfig{
		SyncMode:    v.GetString(keySyncMode),
		RPCFunction: v.GetString(keyRPCFunction),
	})
	return fn(ctx, exec)
}
