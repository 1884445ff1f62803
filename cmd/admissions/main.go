/*
main.go - Application entry point

PURPOSE:
  Command-line front end for the PEC admissions tracker.

COMMANDS:
  serve      Run the HTTP API (and the reservation sweeper, if enabled)
  migrate    Create/upgrade the database schema and seed the counter
  sequence   Show the application number counter
  export     Write submitted applications in a date range to an .xlsx file

CONFIGURATION:
  Defaults, then .env, then environment, then flags. See config/config.go
  for the variables.

EXAMPLES:
  # Run with file database
  admissions serve --db ./data/admissions.db --port 8080

  # Upgrade an old database file in place
  admissions migrate --db ./legacy.db

  # Export the first week of June with a branch chart
  admissions export --from 2025-06-01 --to 2025-06-07 --chart -o june.xlsx

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
