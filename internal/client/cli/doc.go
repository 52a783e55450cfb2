// Package cli is the interactive front end of the officesync client.
//
// NewApp wires the local store (falling back to the flat key-value store
// when SQLite cannot be opened), runs pending data migrations, and starts
// the sync engine, the session validator and the cross-process session
// watcher. Run then reads commands until exit:
//
//	help                                  list commands
//	login | logout                        start or end a session
//	status                                connectivity, queue and session
//	list <entity>                         list records
//	show <entity> <id>                    print one record
//	add <entity> k=v ...                  create a record
//	update <entity> <id> k=v ...          change fields of a record
//	delete <entity> <id>                  remove a record
//	sync                                  drain the queue and sync everything
//	stats                                 record counts per entity
//	backup [file|--upload]                auto backup, export, or upload
//	restore <file> [strategy] [--clear]   restore an exported backup
//	migrate                               run pending data migrations
//	exit | quit                           leave
package cli
