package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarWolf314/sharevault/internal/configs"
	"github.com/PolarWolf314/sharevault/internal/utils"
)

// Operation names recorded in the log.
const (
	OpInit             = "init"
	OpVaultCreate      = "vault-create"
	OpVaultRotate      = "vault-rotate"
	OpMemberAdd        = "member-add"
	OpItemSeal         = "item-seal"
	OpItemOpen         = "item-open"
	OpInviteCreate     = "invite-create"
	OpInviteConfirm    = "invite-confirm"
	OpInviteAccept     = "invite-accept"
	OpInviteReject     = "invite-reject"
	OpInvalidSignature = "invalid-signature"
	OpReencrypt        = "reencrypt"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"`   // RFC3339 with microseconds.
	User      string `json:"user"` // Email of the acting member.
	UserUUID  string `json:"uuid"`
	Operation string `json:"op"`

	ShareID         string `json:"share_id,omitempty"`
	VaultName       string `json:"vault,omitempty"`
	Rotation        int64  `json:"rotation,omitempty"`
	ItemID          string `json:"item_id,omitempty"`
	TargetUser      string `json:"target_user,omitempty"` // For member-add and invites.
	TargetUUID      string `json:"target_uuid,omitempty"`
	InviteID        string `json:"invite_id,omitempty"`
	RecipientsCount int    `json:"recipients_count,omitempty"` // For reencrypt and rotate.
	BlobsCount      int    `json:"blobs_count,omitempty"`
	Reason          string `json:"reason,omitempty"` // For rejections and invalid signatures.
	ProjectName     string `json:"project_name,omitempty"`
	ProjectUUID     string `json:"project_uuid,omitempty"`
}

// Recorder receives audit entries. Log is the default recorder.
type Recorder func(Entry)

// Log appends an entry to the audit log. Failures are swallowed: an
// operation never fails because its audit entry could not be written.
func Log(entry Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	logPath := LogPath()
	if logPath == "" {
		return
	}

	// #nosec G306 -- the audit log is shared with the other members.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}

// LogWithUser returns an entry with the user fields populated from config.
func LogWithUser(op string) Entry {
	entry := Entry{Operation: op}

	userConfig, err := configs.LoadUserConfig()
	if err != nil {
		return entry
	}

	entry.User = userConfig.User.Email
	entry.UserUUID = userConfig.User.UUID
	return entry
}

// LogPath returns the path to the audit log, or "" outside a project.
func LogPath() string {
	if configs.ProjectVaultSettings == nil || configs.ProjectVaultSettings.ProjectPath == "" {
		return ""
	}
	return filepath.Join(configs.ProjectVaultSettings.ProjectPath, utils.ProjectDirName, "audit.jsonl")
}

// ReadEntries reads all entries from the audit log.
// Returns an empty slice if the log doesn't exist.
func ReadEntries() ([]Entry, error) {
	logPath := LogPath()
	if logPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data. Malformed lines are skipped so a
// partially written final line does not hide the rest of the log.
func ParseEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	start := 0

	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
