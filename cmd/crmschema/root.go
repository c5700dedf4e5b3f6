package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/tricyclecrm/internal/config"
	"github.com/JonMunkholm/tricyclecrm/internal/logging"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
)

// Viper keys. With the "." to "_" env replacer they read the same variables
// as the server.
const (
	keyDatabaseURL = "database.url"
	keySchemaFile  = "schema.file"
	keySyncMode    = "schema.sync_mode"
	keyRPCFunction = "schema.rpc_function"
	keyLogLevel    = "log.level"
)

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "crmschema",
		Short:         "Render and apply the TricycleCRM schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(v, cfgFile); err != nil {
				return err
			}
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), v.GetString(keyLogLevel), "text"))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./crmschema.yaml)")
	flags.String("schema", "", "schema YAML file (default is the built-in CRM schema)")
	flags.String("database-url", "", "Postgres connection string")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")

	_ = v.BindPFlag(keySchemaFile, flags.Lookup("schema"))
	_ = v.BindPFlag(keyDatabaseURL, flags.Lookup("database-url"))
	_ = v.BindPFlag(keyLogLevel, flags.Lookup("log-level"))

	v.SetDefault(keySyncMode, config.SyncModeDirect)
	v.SetDefault(keyRPCFunction, schema.DefaultRPCFunction)

	root.AddCommand(
		newSQLCmd(v),
		newTypesCmd(v),
		newAddTableCmd(v),
		newUpdateTableCmd(v),
		newSyncCmd(v),
		newCheckCmd(v),
	)
	return root
}

// initConfig reads the config file, if any, and the environment.
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	if ex, err := os.Executable(); err == nil {
		v.AddConfigPath(filepath.Dir(ex))
	}
	v.AddConfigPath(".")
	v.SetConfigName("crmschema")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// loadSchema returns the schema file named by the settings, or the built-in one.
func loadSchema(v *viper.Viper) (*schema.Schema, error) {
	path := v.GetString(keySchemaFile)
	if path == "" {
		return schema.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()
	return schema.LoadYAML(f)
}
