package db

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/chat"
)

func TestConnectAndMigrate_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite", "file:migrate_test?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	for _, table := range []string{"chat_sessions", "chat_messages", "chat_attachments", "token_usage",
		"conversation_summaries", "summary_jobs", "subscriptions", "monthly_quotas", "tracking_events"} {
		require.True(t, gdb.Migrator().HasTable(table), table)
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("postgres", "dsn")
	require.Error(t, err)
}

type captureWriter struct{ lines []string }

func (w *captureWriter) Printf(format string, args ...any) {
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func TestLogger_QuietOnRecordNotFound(t *testing.T) {
	w := &captureWriter{}
	gdb, err := gorm.Open(sqlite.Open("file:logger_test?mode=memory&cache=shared"), &gorm.Config{Logger: newLogger(w)})
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))
	w.lines = nil

	var s chat.ConversationSummary
	err = gdb.Where("user_id = ?", 1).First(&s).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.Empty(t, w.lines)

	require.Error(t, gdb.Exec("SELECT * FROM no_such_table").Error)
	require.NotEmpty(t, w.lines)
	require.True(t, strings.Contains(strings.Join(w.lines, "\n"), "no_such_table"))
}
