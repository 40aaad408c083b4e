package items

import (
	"fmt"
	"unicode/utf8"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

// ItemType is the kind of a vault item.
type ItemType int32

const (
	ItemTypeUnknown ItemType = 0
	ItemTypeNote    ItemType = 1
	ItemTypeLogin   ItemType = 2
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeNote:
		return "note"
	case ItemTypeLogin:
		return "login"
	default:
		return "unknown"
	}
}

// ParseItemType is the inverse of ItemType.String.
func ParseItemType(s string) (ItemType, bool) {
	switch s {
	case "note":
		return ItemTypeNote, true
	case "login":
		return ItemTypeLogin, true
	default:
		return ItemTypeUnknown, false
	}
}

// ItemContents are the decrypted fields of an item.
type ItemContents struct {
	Title       string
	Note        string
	Type        ItemType
	Login       *Login
	ExtraFields []Field
}

// Login holds the credential fields of a login item.
type Login struct {
	Username     string
	Password     string
	URLs         []string
	PackageNames []string
	TOTPURI      string
}

// Field is a user defined extra field.
type Field struct {
	Name   string
	Value  string
	Hidden bool
}

// VaultContent is the encrypted descriptive part of a vault.
type VaultContent struct {
	Name        string
	Description string
	Color       string
	Icon        string
}

// Validate reports contents that would encode but never decode.
func (c ItemContents) Validate() error {
	if c.Type < ItemTypeUnknown || c.Type > ItemTypeLogin {
		return fmt.Errorf("%w: unknown item type %d", kerrors.ErrInvalidContents, int32(c.Type))
	}
	strs := []string{c.Title, c.Note}
	if l := c.Login; l != nil {
		strs = append(strs, l.Username, l.Password, l.TOTPURI)
		strs = append(strs, l.URLs...)
		strs = append(strs, l.PackageNames...)
	}
	for _, f := range c.ExtraFields {
		strs = append(strs, f.Name, f.Value)
	}
	return validUTF8(strs...)
}

// Validate reports vault content that would encode but never decode.
func (v VaultContent) Validate() error {
	return validUTF8(v.Name, v.Description, v.Color, v.Icon)
}

func validUTF8(strs ...string) error {
	for _, s := range strs {
		if !utf8.ValidString(s) {
			return fmt.Errorf("%w: string is not valid UTF-8", kerrors.ErrInvalidContents)
		}
	}
	return nil
}
