package workflows

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PolarWolf314/sharevault/internal/audit"
	"github.com/PolarWolf314/sharevault/internal/configs"
	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

// LogOptions configures the log workflow.
type LogOptions struct {
	// Limit is the maximum number of entries to return. 0 means no limit.
	Limit int

	// Reverse orders entries from most recent to oldest when true.
	Reverse bool

	// User filters entries by user email.
	User string

	// Operations filters entries by operation types (comma-separated).
	Operations string

	// ShareID filters entries by share.
	ShareID string

	// Since filters entries after this date (YYYY-MM-DD format).
	Since string

	// Until filters entries before this date (YYYY-MM-DD format).
	Until string
}

// LogResult contains the outcome of a log operation.
type LogResult struct {
	// Entries are the filtered audit log entries.
	Entries []audit.Entry

	// TotalEntriesBeforeFilter is the count of entries before filtering.
	TotalEntriesBeforeFilter int
}

// Log reads and filters the audit log.
//
// Returns ErrProjectNotInitialized outside a project.
// Returns ErrNoAuditLog if nothing has been recorded yet.
// Returns ErrInvalidDateFormat if the date format is invalid.
func Log(ctx context.Context, opts LogOptions) (*LogResult, error) {
	if err := configs.InitProjectSettings(); err != nil {
		return nil, fmt.Errorf("initializing project settings: %w", err)
	}

	projectPath := configs.ProjectVaultSettings.ProjectPath
	if projectPath == "" {
		return nil, kerrors.ErrProjectNotInitialized
	}

	logPath := audit.LogPath()
	if logPath == "" {
		return nil, kerrors.ErrNoAuditLog
	}

	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil, kerrors.ErrNoAuditLog
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	entries, err := audit.ParseEntries(data)
	if err != nil {
		return nil, fmt.Errorf("parsing audit log: %w", err)
	}

	result := &LogResult{
		TotalEntriesBeforeFilter: len(entries),
	}

	if len(entries) == 0 {
		result.Entries = entries
		return result, nil
	}

	filtered := entries

	if opts.User != "" {
		filtered = filterByUser(filtered, opts.User)
	}

	if opts.ShareID != "" {
		filtered = filterByShare(filtered, opts.ShareID)
	}

	if opts.Operations != "" {
		ops := strings.Split(opts.Operations, ",")
		for i := range ops {
			ops[i] = strings.TrimSpace(ops[i])
		}
		filtered = filterByOperations(filtered, ops)
	}

	if opts.Since != "" {
		sinceTime, err := time.Parse("2006-01-02", opts.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: --since date format invalid, use YYYY-MM-DD", kerrors.ErrInvalidDateFormat)
		}
		filtered = filterSince(filtered, sinceTime)
	}

	if opts.Until != "" {
		untilTime, err := time.Parse("2006-01-02", opts.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: --until date format invalid, use YYYY-MM-DD", kerrors.ErrInvalidDateFormat)
		}
		// Include the entire day by setting to end of day.
		untilTime = untilTime.Add(24*time.Hour - time.Nanosecond)
		filtered = filterUntil(filtered, untilTime)
	}

	if opts.Reverse {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	if opts.Limit > 0 && len(filtered) > opts.Limit {
		if opts.Reverse {
			// When reversed, limit takes first N (most recent).
			filtered = filtered[:opts.Limit]
		} else {
			// When not reversed, limit takes last N (most recent).
			filtered = filtered[len(filtered)-opts.Limit:]
		}
	}

	result.Entries = filtered
	return result, nil
}

// filterByUser filters entries by user email (case-insensitive).
func filterByUser(entries []audit.Entry, user string) []audit.Entry {
	var result []audit.Entry
	for _, e := range entries {
		if strings.EqualFold(e.User, user) {
			result = append(result, e)
		}
	}
	return result
}

func filterByShare(entries []audit.Entry, shareID string) []audit.Entry {
	var result []audit.Entry
	for _, e := range entries {
		if e.ShareID == shareID {
			result = append(result, e)
		}
	}
	return result
}

// filterByOperations filters entries by operation types.
func filterByOperations(entries []audit.Entry, ops []string) []audit.Entry {
	opSet := make(map[string]bool)
	for _, op := range ops {
		opSet[strings.ToLower(op)] = true
	}

	var result []audit.Entry
	for _, e := range entries {
		if opSet[strings.ToLower(e.Operation)] {
			result = append(result, e)
		}
	}
	return result
}

// filterSince keeps entries at or after since.
func filterSince(entries []audit.Entry, since time.Time) []audit.Entry {
	return filterTime(entries, func(t time.Time) bool { return !t.Before(since) })
}

// filterUntil keeps entries at or before until.
func filterUntil(entries []audit.Entry, until time.Time) []audit.Entry {
	return filterTime(entries, func(t time.Time) bool { return !t.After(until) })
}

// filterTime drops entries whose timestamp cannot be parsed.
func filterTime(entries []audit.Entry, keep func(time.Time) bool) []audit.Entry {
	var result []audit.Entry
	for _, e := range entries {
		if t, ok := parseTimestamp(e.Timestamp); ok && keep(t) {
			result = append(result, e)
		}
	}
	return result
}

func parseTimestamp(ts string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02T15:04:05.000000Z", ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339, ts)
	}
	return t, err == nil
}

// FormatDate formats a timestamp string to YYYY-MM-DD format.
func FormatDate(ts string) string {
	if t, ok := parseTimestamp(ts); ok {
		return t.Format("2006-01-02")
	}
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

// FormatDateTime formats a timestamp string to YYYY-MM-DD HH:MM:SS format.
func FormatDateTime(ts string) string {
	if t, ok := parseTimestamp(ts); ok {
		return t.Format("2006-01-02 15:04:05")
	}
	if len(ts) >= 19 {
		return ts[:19]
	}
	return ts
}

// FormatDetails formats the details for a log entry in verbose format.
func FormatDetails(e audit.Entry) string {
	switch e.Operation {
	case audit.OpInit:
		return e.ProjectName
	case audit.OpVaultCreate:
		return fmt.Sprintf("%s (%s)", e.VaultName, shortID(e.ShareID))
	case audit.OpVaultRotate:
		return fmt.Sprintf("%s to r%d, %d members, %d keys", shortID(e.ShareID), e.Rotation, e.RecipientsCount, e.BlobsCount)
	case audit.OpMemberAdd:
		return fmt.Sprintf("%s to %s, %d keys", e.TargetUser, shortID(e.ShareID), e.BlobsCount)
	case audit.OpItemSeal, audit.OpItemOpen:
		return fmt.Sprintf("%s in %s (r%d)", shortID(e.ItemID), shortID(e.ShareID), e.Rotation)
	case audit.OpInviteCreate, audit.OpInviteConfirm:
		return fmt.Sprintf("%s to %s", e.TargetUser, shortID(e.ShareID))
	case audit.OpInviteAccept:
		return fmt.Sprintf("%s (%s)", e.VaultName, shortID(e.InviteID))
	case audit.OpInviteReject:
		return fmt.Sprintf("%s: %s", shortID(e.InviteID), e.Reason)
	case audit.OpInvalidSignature:
		return fmt.Sprintf("%s r%d: %s", shortID(e.ShareID), e.Rotation, e.Reason)
	case audit.OpReencrypt:
		return fmt.Sprintf("%d members, %d keys", e.RecipientsCount, e.BlobsCount)
	default:
		return ""
	}
}

// FormatDetailsOneline formats the details for a log entry in oneline format.
func FormatDetailsOneline(e audit.Entry) string {
	switch e.Operation {
	case audit.OpInit:
		return e.ProjectName
	case audit.OpVaultCreate, audit.OpInviteAccept:
		return e.VaultName
	case audit.OpVaultRotate:
		return fmt.Sprintf("r%d", e.Rotation)
	case audit.OpMemberAdd, audit.OpInviteCreate, audit.OpInviteConfirm:
		return e.TargetUser
	case audit.OpItemSeal, audit.OpItemOpen:
		return shortID(e.ItemID)
	case audit.OpInviteReject, audit.OpInvalidSignature:
		return e.Reason
	default:
		return ""
	}
}

// shortID abbreviates a UUID to its first block.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
