package sql

import (
	"context"
	"fmt"
	"strings"

	safety "github.com/heibot/safety"
)

type index struct {
	name    string
	columns string
	unique  bool
}

type table struct {
	name    string
	columns []string
	primary string
	indexes []index
}

// Column types are written with {key} for short identifiers, which MySQL
// needs bounded to index them.
var tables = []table{
	{
		name: "moderation_log",
		columns: []string{
			"id {key} NOT NULL",
			"user_id {key} NOT NULL",
			"target_type {key} NOT NULL DEFAULT ''",
			"target_id {key} NOT NULL DEFAULT ''",
			"action {key} NOT NULL",
			"reason TEXT NOT NULL",
			"severity {key} NOT NULL",
			"category {key} NOT NULL",
			"moderator_id {key} NOT NULL DEFAULT ''",
			"automated BOOLEAN NOT NULL",
			"confidence DOUBLE PRECISION NOT NULL",
			"metadata TEXT",
			"appealable BOOLEAN NOT NULL",
			"appeal_deadline BIGINT NOT NULL",
			"created_at BIGINT NOT NULL",
			"resolved_at BIGINT",
			"resolved_by {key} NOT NULL DEFAULT ''",
		},
		primary: "id",
		indexes: []index{
			{name: "idx_moderation_log_user", columns: "user_id, created_at"},
		},
	},
	{
		name: "report",
		columns: []string{
			"id {key} NOT NULL",
			"reporter_id {key} NOT NULL",
			"target_user_id {key} NOT NULL",
			"target_type {key} NOT NULL",
			"target_id {key} NOT NULL",
			"reason {key} NOT NULL",
			"description TEXT NOT NULL",
			"status {key} NOT NULL",
			"priority {key} NOT NULL",
			"assigned_moderator {key} NOT NULL DEFAULT ''",
			"resolution TEXT",
			"duplicate_of {key} NOT NULL DEFAULT ''",
			"duplicate_count INT NOT NULL DEFAULT 0",
			// hash of the reporter/target tuple while active, NULL afterwards
			"active_key {key}",
			"created_at BIGINT NOT NULL",
			"updated_at BIGINT NOT NULL",
		},
		primary: "id",
		indexes: []index{
			{name: "uk_report_active", columns: "active_key", unique: true},
			{name: "idx_report_target", columns: "target_user_id, target_type, target_id, status"},
			{name: "idx_report_status", columns: "status, created_at"},
		},
	},
	{
		name: "block_relationship",
		columns: []string{
			"blocker_id {key} NOT NULL",
			"blocked_user_id {key} NOT NULL",
			"reason {key} NOT NULL",
			"description TEXT NOT NULL",
			"mutual BOOLEAN NOT NULL",
			"created_at BIGINT NOT NULL",
		},
		primary: "blocker_id, blocked_user_id",
	},
	{
		name: "chat_enforcement",
		columns: []string{
			"user_id {key} NOT NULL",
			"tribe_id {key} NOT NULL",
			"is_muted BOOLEAN NOT NULL DEFAULT FALSE",
			"muted_until BIGINT",
			"muted_by {key} NOT NULL DEFAULT ''",
			"mute_reason {key} NOT NULL DEFAULT ''",
			"is_shadowbanned BOOLEAN NOT NULL DEFAULT FALSE",
			"shadowban_until BIGINT",
			"shadowban_reason {key} NOT NULL DEFAULT ''",
			"violation_count INT NOT NULL DEFAULT 0",
			"last_violation_at BIGINT",
			"message_count BIGINT NOT NULL DEFAULT 0",
			"last_message_at BIGINT",
			"blocked_users TEXT",
			"notification_settings TEXT",
		},
		primary: "user_id, tribe_id",
	},
	{
		// row_guard serializes read-then-write sequences that have no row of
		// their own to lock.
		name: "row_guard",
		columns: []string{
			"guard_key {key} NOT NULL",
			"revision BIGINT NOT NULL DEFAULT 0",
		},
		primary: "guard_key",
	},
}

// Schema returns the DDL statements for the dialect.
func Schema(d Dialect) []string {
	key := "TEXT"
	if d.mysqlFamily() {
		key = "VARCHAR(191)"
	}

	var stmts []string
	for _, t := range tables {
		defs := make([]string, 0, len(t.columns)+len(t.indexes)+1)
		for _, c := range t.columns {
			defs = append(defs, strings.ReplaceAll(c, "{key}", key))
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", t.primary))

		// MySQL has no CREATE INDEX IF NOT EXISTS, so its indexes go inline.
		if d.mysqlFamily() {
			for _, idx := range t.indexes {
				kind := "KEY"
				if idx.unique {
					kind = "UNIQUE KEY"
				}
				defs = append(defs, fmt.Sprintf("%s %s (%s)", kind, idx.name, idx.columns))
			}
		}

		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(defs, ",\n\t"))
		if d.mysqlFamily() {
			stmt += " DEFAULT CHARSET=utf8mb4"
		}
		stmts = append(stmts, stmt)

		if !d.mysqlFamily() {
			for _, idx := range t.indexes {
				unique := ""
				if idx.unique {
					unique = "UNIQUE "
				}
				stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", unique, idx.name, t.name, idx.columns))
			}
		}
	}
	return stmts
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return safety.NewStoreError("migrate", "schema", err)
		}
	}
	return nil
}
