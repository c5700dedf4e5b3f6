// Command crmschema renders and applies the TricycleCRM schema.
//
//	crmschema sql --new            full DDL script for an empty database
//	crmschema types -o types.ts    TypeScript table types
//	crmschema add-table contenedores --column codigo:text:notnull
//	crmschema update-table clientes --column web:text
//	crmschema sync --rpc           apply the script through execute_sql
//	crmschema check                compare the import entities with the schema
//
// Settings come from flags, then a crmschema.yaml file, then the environment
// (DATABASE_URL, SCHEMA_FILE, SCHEMA_SYNC_MODE, SCHEMA_RPC_FUNCTION).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
