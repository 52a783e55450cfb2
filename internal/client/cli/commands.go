package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pixelartvj/officesync/internal/client/backup"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/filex"
	"github.com/pixelartvj/officesync/internal/shared"
)

const uploadTarget = "--upload"

// Login prompts for credentials and starts a session.
func (a *App) Login(ctx context.Context) error {
	email, err := a.ask("Email")
	if err != nil {
		return err
	}
	password, err := a.askPassword()
	if err != nil {
		return err
	}
	defer shared.Wipe(password)

	sess, err := a.auth.Login(ctx, email, string(password))
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			return errors.New("invalid email or password")
		}
		return err
	}
	a.backups.SetUserID(sess.User.ID)
	fmt.Fprintf(a.out, "Logged in as %s\n", sess.User.Email)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	a.backups.SetUserID("")
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// Status prints connectivity, queue, session and migration state.
func (a *App) Status(ctx context.Context) error {
	st := a.engine.Status(ctx)

	fmt.Fprintf(a.out, "provider:  %s\n", st.Provider)
	fmt.Fprintf(a.out, "online:    %t\n", st.Online)
	fmt.Fprintf(a.out, "syncing:   %t\n", st.Syncing)
	fmt.Fprintf(a.out, "queued:    %d\n", st.QueuedOperations)
	if st.LastSyncTime.IsZero() {
		fmt.Fprintln(a.out, "last sync: never")
	} else {
		fmt.Fprintf(a.out, "last sync: %s\n", models.FormatTime(st.LastSyncTime))
	}
	fmt.Fprintf(a.out, "device:    %s\n", st.DeviceID)

	sess, err := a.auth.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if sess != nil {
		fmt.Fprintf(a.out, "user:      %s (expires %s)\n", sess.User.Email, models.FormatTime(sess.ExpiresAt))
	} else {
		fmt.Fprintln(a.out, "user:      -")
	}

	ms, err := a.migrator.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "schema:    %s (%s)\n", ms.Version, ms.Status)
	if a.degraded {
		fmt.Fprintln(a.out, "storage:   degraded")
	}
	return nil
}

// List prints one line per record: id, updated_at and the other fields.
func (a *App) List(ctx context.Context, entity string) error {
	recs, err := a.store.GetAll(ctx, entity)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "(empty)")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(a.out, "%s  %s  %s\n", r.ID(), models.FormatTime(r.Timestamp()), summary(r))
	}
	return nil
}

func summary(r models.Record) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		if k == models.FieldID || strings.HasPrefix(k, "_") ||
			k == models.FieldCreatedAt || k == models.FieldUpdatedAt {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, r[k]))
	}
	return strings.Join(parts, " ")
}

func (a *App) Show(ctx context.Context, entity, id string) error {
	rec, err := a.store.Get(ctx, entity, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%s[%s]: %w", entity, id, common.ErrorNotFound)
	}
	return a.printJSON(rec)
}

func (a *App) Add(ctx context.Context, entity string, pairs []string) error {
	data, err := models.RecordFromPairs(pairs)
	if err != nil {
		return err
	}
	rec, err := a.store.Create(ctx, entity, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created %s[%s]\n", entity, rec.ID())
	return nil
}

func (a *App) Update(ctx context.Context, entity, id string, pairs []string) error {
	partial, err := models.RecordFromPairs(pairs)
	if err != nil {
		return err
	}
	rec, err := a.store.Update(ctx, entity, id, partial)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s[%s] to version %d\n", entity, id, rec.Version())
	return nil
}

func (a *App) Delete(ctx context.Context, entity, id string) error {
	ok, err := a.store.Delete(ctx, entity, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s[%s]: %w", entity, id, common.ErrorNotFound)
	}
	fmt.Fprintf(a.out, "Deleted %s[%s]\n", entity, id)
	return nil
}

// Sync replays the offline queue and then runs a full sync.
func (a *App) Sync(ctx context.Context) error {
	if err := a.engine.ProcessQueue(ctx); err != nil {
		return err
	}
	if err := a.engine.SyncAll(ctx); err != nil {
		return err
	}
	st := a.engine.Status(ctx)
	fmt.Fprintf(a.out, "Sync done (provider %s, %d queued)\n", st.Provider, st.QueuedOperations)
	return nil
}

func (a *App) Stats(ctx context.Context) error {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(stats))
	for n := range stats {
		names = append(names, n)
	}
	sort.Strings(names)

	total := 0
	for _, n := range names {
		fmt.Fprintf(a.out, "%-12s %d\n", n, stats[n])
		total += stats[n]
	}
	fmt.Fprintf(a.out, "%-12s %d\n", "total", total)
	return nil
}

// Backup stores a rotating auto backup (no target), exports to a file, or
// uploads through the backend (--upload).
func (a *App) Backup(ctx context.Context, target string) error {
	a.refreshBackupOwner(ctx)

	switch target {
	case "":
		b, err := a.backups.AutoBackup(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Auto backup stored (%d items)\n", b.Stats.TotalItems)
		return nil

	case uploadTarget:
		sess, err := a.auth.CurrentSession(ctx)
		if err != nil {
			return err
		}
		if sess == nil {
			return common.ErrorUnauthorized
		}
		key, err := a.backups.Upload(ctx, sess.AuthToken, models.BackupOptions{IncludeMetadata: true, Compress: true})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Backup uploaded as %s\n", key)
		return nil
	}

	var buf bytes.Buffer
	b, err := a.backups.Export(ctx, &buf, models.BackupOptions{IncludeMetadata: true, IncludeSyncQueue: true})
	if err != nil {
		return err
	}
	if err := filex.WriteAtomic(target, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintf(a.out, "Backup written to %s (%d items)\n", target, b.Stats.TotalItems)
	return nil
}

// Restore imports file and restores it with the given strategy.
func (a *App) Restore(ctx context.Context, file, strategy string, clearExisting bool) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := backup.Import(f)
	if err != nil {
		return err
	}
	res, err := a.backups.RestoreBackup(ctx, b, backup.RestoreOptions{
		ClearExisting: clearExisting,
		Strategy:      backup.Strategy(strategy),
	})
	if err != nil {
		return err
	}

	restored := 0
	for _, n := range res.Restored {
		restored += n
	}
	fmt.Fprintf(a.out, "Restored %d records, skipped %d\n", restored, res.Skipped)
	for _, r := range res.Renamed {
		fmt.Fprintf(a.out, "  %s[%s] kept as %s\n", r.Entity, r.OriginalID, r.NewID)
	}
	return nil
}

func (a *App) Migrate(ctx context.Context) error {
	if err := a.migrator.Run(ctx); err != nil {
		return err
	}
	st, err := a.migrator.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Schema version %s (%s)\n", st.Version, st.Status)
	if st.Error != "" {
		fmt.Fprintf(a.out, "Last error: %s\n", st.Error)
	}
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
