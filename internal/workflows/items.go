package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/PolarWolf314/sharevault/internal/audit"
	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/items"
	"github.com/PolarWolf314/sharevault/internal/matching"
	"github.com/PolarWolf314/sharevault/internal/utils"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// SealItemOptions configures the item seal workflow.
type SealItemOptions struct {
	SessionOptions

	ShareID string

	// ItemID updates an existing item. If empty, a new item is created.
	ItemID string

	Contents items.ItemContents
}

// SealItemResult contains the outcome of sealing an item.
type SealItemResult struct {
	ItemID   string
	Revision int64
	Rotation int64
}

// SealItem encrypts contents under the latest rotation of the share key.
//
// Returns ErrPermissionDenied for read-only members and ErrInvalidContents
// for contents that could not be opened again.
func SealItem(ctx context.Context, opts SealItemOptions) (*SealItemResult, error) {
	if err := opts.Contents.Validate(); err != nil {
		return nil, err
	}

	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	share, role, err := s.share(ctx, opts.ShareID)
	if err != nil {
		return nil, err
	}
	if role == vault.RoleRead {
		return nil, fmt.Errorf("share %s: %w: read-only member", share.ID, kerrors.ErrPermissionDenied)
	}

	key, err := s.keys.GetLatestKey(ctx, share.ID, false)
	if err != nil {
		return nil, err
	}

	var item vault.Item
	if opts.ItemID != "" {
		existing, err := s.directory.GetItem(ctx, share.ID, opts.ItemID)
		if err != nil {
			return nil, err
		}
		if existing.ItemKey.KeyRotation == key.Rotation {
			var itemKey vault.ItemKey
			if itemKey, err = s.itemKey(ctx, existing); err == nil {
				item, err = items.Update(existing, opts.Contents, itemKey)
			}
		} else {
			// Sealed under an older rotation: move the item to a fresh item key.
			item, err = items.Seal(existing.ID, opts.Contents, key)
			item.Revision = existing.Revision + 1
			item.CreatedAt = existing.CreatedAt
		}
		if err != nil {
			return nil, err
		}
	} else {
		item, err = items.Seal(uuid.New().String(), opts.Contents, key)
		if err != nil {
			return nil, err
		}
	}

	if err := s.directory.PutItem(ctx, item); err != nil {
		return nil, err
	}

	entry := s.auditEntry(audit.OpItemSeal)
	entry.ShareID = share.ID
	entry.ItemID = item.ID
	entry.Rotation = item.Content.KeyRotation
	audit.Log(entry)

	return &SealItemResult{ItemID: item.ID, Revision: item.Revision, Rotation: item.Content.KeyRotation}, nil
}

// OpenItemOptions configures the item open workflow.
type OpenItemOptions struct {
	SessionOptions

	ShareID string
	ItemID  string
}

// OpenItemResult contains a decrypted item.
type OpenItemResult struct {
	Item     vault.Item
	Contents items.ItemContents
}

// OpenItem decrypts an item with the share key rotation it was sealed under.
// A missing or stale key is refreshed from the remote once before giving up.
func OpenItem(ctx context.Context, opts OpenItemOptions) (*OpenItemResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if _, _, err := s.share(ctx, opts.ShareID); err != nil {
		return nil, err
	}
	item, err := s.directory.GetItem(ctx, opts.ShareID, opts.ItemID)
	if err != nil {
		return nil, err
	}

	contents, err := s.openItem(ctx, item)
	if err != nil {
		return nil, err
	}

	entry := s.auditEntry(audit.OpItemOpen)
	entry.ShareID = item.ShareID
	entry.ItemID = item.ID
	entry.Rotation = item.Content.KeyRotation
	audit.Log(entry)

	return &OpenItemResult{Item: item, Contents: contents}, nil
}

func (s *session) openItem(ctx context.Context, item vault.Item) (items.ItemContents, error) {
	itemKey, err := s.itemKey(ctx, item)
	if err != nil {
		return items.ItemContents{}, err
	}
	return items.Decode(item.Content, itemKey)
}

// itemKey returns the item's key from the key ring, unwrapping and caching it
// on first use.
func (s *session) itemKey(ctx context.Context, item vault.Item) (vault.ItemKey, error) {
	rotation := item.ItemKey.KeyRotation
	if key, ok := s.ring.GetItemKey(item.ShareID, item.ID, rotation); ok {
		return key, nil
	}

	shareKey, err := s.shareKey(ctx, item.ShareID, rotation)
	if err != nil {
		return vault.ItemKey{}, err
	}
	itemKey, err := items.UnwrapItemKey(item.ItemKey, shareKey, item.ID)
	if err != nil && kerrors.IsRecoverable(err) {
		// The item names a rotation the cached key disagrees with; refetch once.
		s.log.Debugf("Item %s: %v, refreshing share %s", item.ID, err, item.ShareID)
		shareKey, err = s.keys.GetLatestKey(ctx, item.ShareID, true)
		if err != nil {
			return vault.ItemKey{}, err
		}
		if shareKey.Rotation != rotation {
			if shareKey, err = s.keys.GetKeyByRotation(ctx, item.ShareID, rotation); err != nil {
				return vault.ItemKey{}, err
			}
		}
		itemKey, err = items.UnwrapItemKey(item.ItemKey, shareKey, item.ID)
	}
	if err != nil {
		return vault.ItemKey{}, err
	}

	if err := s.ring.PutItemKey(itemKey); err != nil {
		s.log.Warnf("Could not cache key of item %s: %v", item.ID, err)
	}
	return itemKey, nil
}

// SuggestItemsOptions configures the item suggest workflow.
type SuggestItemsOptions struct {
	SessionOptions

	Request matching.Request
}

// SkippedItem is an item that could not be considered for suggestion.
type SkippedItem struct {
	ShareID string
	ItemID  string
	Err     error
}

// SuggestItemsResult contains ranked suggestions across every vault.
type SuggestItemsResult struct {
	Suggestions []matching.Suggestion
	Skipped     []SkippedItem
}

// SuggestItems decrypts the login items of every vault the member belongs to
// and ranks them against the request. Items that fail to decrypt are skipped
// and reported rather than aborting the search.
func SuggestItems(ctx context.Context, opts SuggestItemsOptions) (*SuggestItemsResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	shares, err := s.directory.Shares(ctx, s.memberID())
	if err != nil {
		return nil, err
	}

	result := &SuggestItemsResult{}
	var candidates []matching.Candidate
	for _, share := range shares {
		stored, err := s.directory.Items(ctx, share.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range stored {
			contents, err := s.openItem(ctx, item)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				result.Skipped = append(result.Skipped, SkippedItem{ShareID: share.ID, ItemID: item.ID, Err: err})
				continue
			}
			if candidate, ok := matching.FromItem(share.ID, item.ID, contents); ok {
				candidates = append(candidates, candidate)
			}
		}
	}

	result.Suggestions = matching.Suggest(opts.Request, candidates)
	return result, nil
}

// ImportNotesOptions configures the item import workflow.
type ImportNotesOptions struct {
	SessionOptions

	ShareID string

	// Patterns are paths, directories or ** globs relative to BaseDir.
	Patterns []string
	BaseDir  string
}

// ImportNotesResult lists the items created, keyed by source file.
type ImportNotesResult struct {
	Items map[string]string
}

// ImportNotes seals every matched file as a note item titled by its path
// relative to BaseDir. Every file is read and sealed before any item is
// written, so a bad file leaves the vault untouched.
func ImportNotes(ctx context.Context, opts ImportNotesOptions) (*ImportNotesResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	share, role, err := s.share(ctx, opts.ShareID)
	if err != nil {
		return nil, err
	}
	if role == vault.RoleRead {
		return nil, fmt.Errorf("share %s: %w: read-only member", share.ID, kerrors.ErrPermissionDenied)
	}

	files, err := utils.ResolveFiles(opts.Patterns, opts.BaseDir)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.GetLatestKey(ctx, share.ID, false)
	if err != nil {
		return nil, err
	}

	sealed := make([]vault.Item, 0, len(files))
	result := &ImportNotesResult{Items: make(map[string]string, len(files))}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%s: %w: not UTF-8 text", file, kerrors.ErrInvalidContents)
		}

		title, err := filepath.Rel(opts.BaseDir, file)
		if err != nil {
			title = filepath.Base(file)
		}
		item, err := items.Seal(uuid.New().String(), items.ItemContents{
			Title: filepath.ToSlash(title),
			Type:  items.ItemTypeNote,
			Note:  string(data),
		}, key)
		if err != nil {
			return nil, err
		}
		sealed = append(sealed, item)
		result.Items[file] = item.ID
	}

	for _, item := range sealed {
		if err := s.directory.PutItem(ctx, item); err != nil {
			return nil, err
		}
		entry := s.auditEntry(audit.OpItemSeal)
		entry.ShareID = share.ID
		entry.ItemID = item.ID
		entry.Rotation = key.Rotation
		audit.Log(entry)
	}
	s.log.Infof("Imported %d file(s) into share %s", len(sealed), share.ID)

	return result, nil
}
