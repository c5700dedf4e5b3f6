// Package importer turns a user-supplied Excel spreadsheet into CRM records.
//
// The flow for one file:
//
//  1. Parse reads the first sheet, checks required headers (reporting all missing
//     ones at once), builds a short preview and one Row per data row.
//  2. A Session holds the parsed rows and walks the preview -> duplicates ->
//     complete state machine.
//  3. Duplicate detection and persistence are injected (DuplicateChecker,
//     Persister), so nothing here talks to a database.
//  4. Summarize turns the persister's ImportResult into the counts shown to the
//     user, including rows the persister did not account for.
//
// Rows whose name field is blank are dropped during parsing and not reported.
package importer
