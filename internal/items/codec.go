package items

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

// Field numbers of the canonical encoding. They never change meaning.
const (
	itemTitleField       protowire.Number = 1
	itemNoteField        protowire.Number = 2
	itemTypeField        protowire.Number = 3
	itemLoginField       protowire.Number = 4
	itemExtraFieldsField protowire.Number = 5

	loginUsernameField     protowire.Number = 1
	loginPasswordField     protowire.Number = 2
	loginURLsField         protowire.Number = 3
	loginPackageNamesField protowire.Number = 4
	loginTOTPURIField      protowire.Number = 5

	fieldNameField   protowire.Number = 1
	fieldValueField  protowire.Number = 2
	fieldHiddenField protowire.Number = 3

	vaultNameField        protowire.Number = 1
	vaultDescriptionField protowire.Number = 2
	vaultColorField       protowire.Number = 3
	vaultIconField        protowire.Number = 4
)

// MarshalItemContents writes the canonical encoding: fields in ascending
// order, empty fields omitted.
func MarshalItemContents(c ItemContents) []byte {
	var b []byte
	b = appendString(b, itemTitleField, c.Title)
	b = appendString(b, itemNoteField, c.Note)
	if c.Type != ItemTypeUnknown {
		b = protowire.AppendTag(b, itemTypeField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Type))
	}
	if c.Login != nil {
		b = protowire.AppendTag(b, itemLoginField, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalLogin(*c.Login))
	}
	for _, f := range c.ExtraFields {
		b = protowire.AppendTag(b, itemExtraFieldsField, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalField(f))
	}
	return b
}

func marshalLogin(l Login) []byte {
	var b []byte
	b = appendString(b, loginUsernameField, l.Username)
	b = appendString(b, loginPasswordField, l.Password)
	for _, u := range l.URLs {
		b = appendRepeatedString(b, loginURLsField, u)
	}
	for _, p := range l.PackageNames {
		b = appendRepeatedString(b, loginPackageNamesField, p)
	}
	return appendString(b, loginTOTPURIField, l.TOTPURI)
}

func marshalField(f Field) []byte {
	var b []byte
	b = appendString(b, fieldNameField, f.Name)
	b = appendString(b, fieldValueField, f.Value)
	if f.Hidden {
		b = protowire.AppendTag(b, fieldHiddenField, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// MarshalVaultContent writes the canonical encoding of vault content.
func MarshalVaultContent(v VaultContent) []byte {
	var b []byte
	b = appendString(b, vaultNameField, v.Name)
	b = appendString(b, vaultDescriptionField, v.Description)
	b = appendString(b, vaultColorField, v.Color)
	return appendString(b, vaultIconField, v.Icon)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendRepeatedString(b, num, s)
}

// appendRepeatedString keeps empty elements so list positions survive.
func appendRepeatedString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// UnmarshalItemContents parses the canonical encoding. Unknown fields,
// duplicated singular fields, wrong wire types, invalid UTF-8 and
// truncated input all fail with ErrDecoding.
func UnmarshalItemContents(b []byte) (ItemContents, error) {
	var c ItemContents
	seen := make(map[protowire.Number]bool)

	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case itemTitleField, itemNoteField:
			if err := once(seen, num); err != nil {
				return err
			}
			s, err := stringValue(typ, v)
			if err != nil {
				return err
			}
			if num == itemTitleField {
				c.Title = s
			} else {
				c.Note = s
			}
		case itemTypeField:
			if err := once(seen, num); err != nil {
				return err
			}
			if typ != protowire.VarintType {
				return wireTypeError(num, typ)
			}
			if n > uint64(ItemTypeLogin) {
				return fmt.Errorf("%w: unknown item type %d", kerrors.ErrDecoding, n)
			}
			c.Type = ItemType(n)
		case itemLoginField:
			if err := once(seen, num); err != nil {
				return err
			}
			if typ != protowire.BytesType {
				return wireTypeError(num, typ)
			}
			login, err := unmarshalLogin(v)
			if err != nil {
				return err
			}
			c.Login = &login
		case itemExtraFieldsField:
			if typ != protowire.BytesType {
				return wireTypeError(num, typ)
			}
			field, err := unmarshalField(v)
			if err != nil {
				return err
			}
			c.ExtraFields = append(c.ExtraFields, field)
		default:
			return unknownFieldError(num)
		}
		return nil
	})
	if err != nil {
		return ItemContents{}, err
	}
	return c, nil
}

func unmarshalLogin(b []byte) (Login, error) {
	var l Login
	seen := make(map[protowire.Number]bool)

	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case loginUsernameField, loginPasswordField, loginTOTPURIField:
			if err := once(seen, num); err != nil {
				return err
			}
		case loginURLsField, loginPackageNamesField:
		default:
			return unknownFieldError(num)
		}

		s, err := stringValue(typ, v)
		if err != nil {
			return err
		}
		switch num {
		case loginUsernameField:
			l.Username = s
		case loginPasswordField:
			l.Password = s
		case loginURLsField:
			l.URLs = append(l.URLs, s)
		case loginPackageNamesField:
			l.PackageNames = append(l.PackageNames, s)
		case loginTOTPURIField:
			l.TOTPURI = s
		}
		return nil
	})
	return l, err
}

func unmarshalField(b []byte) (Field, error) {
	var f Field
	seen := make(map[protowire.Number]bool)

	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		if err := once(seen, num); err != nil {
			return err
		}
		switch num {
		case fieldNameField, fieldValueField:
			s, err := stringValue(typ, v)
			if err != nil {
				return err
			}
			if num == fieldNameField {
				f.Name = s
			} else {
				f.Value = s
			}
		case fieldHiddenField:
			if typ != protowire.VarintType {
				return wireTypeError(num, typ)
			}
			if n > 1 {
				return fmt.Errorf("%w: invalid boolean %d", kerrors.ErrDecoding, n)
			}
			f.Hidden = protowire.DecodeBool(n)
		default:
			return unknownFieldError(num)
		}
		return nil
	})
	return f, err
}

// UnmarshalVaultContent parses vault content with the same strictness as items.
func UnmarshalVaultContent(b []byte) (VaultContent, error) {
	var vc VaultContent
	seen := make(map[protowire.Number]bool)

	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if err := once(seen, num); err != nil {
			return err
		}
		var dst *string
		switch num {
		case vaultNameField:
			dst = &vc.Name
		case vaultDescriptionField:
			dst = &vc.Description
		case vaultColorField:
			dst = &vc.Color
		case vaultIconField:
			dst = &vc.Icon
		default:
			return unknownFieldError(num)
		}
		s, err := stringValue(typ, v)
		if err != nil {
			return err
		}
		*dst = s
		return nil
	})
	if err != nil {
		return VaultContent{}, err
	}
	return vc, nil
}

// walk calls fn for every field in b. Bytes fields pass their payload in v,
// varint fields their value in n.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return fmt.Errorf("%w: %v", kerrors.ErrDecoding, protowire.ParseError(tagLen))
		}
		b = b[tagLen:]

		var (
			v        []byte
			n        uint64
			valueLen int
		)
		switch typ {
		case protowire.BytesType:
			v, valueLen = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			n, valueLen = protowire.ConsumeVarint(b)
		default:
			return wireTypeError(num, typ)
		}
		if valueLen < 0 {
			return fmt.Errorf("%w: field %d: %v", kerrors.ErrDecoding, num, protowire.ParseError(valueLen))
		}
		b = b[valueLen:]

		if err := fn(num, typ, v, n); err != nil {
			return err
		}
	}
	return nil
}

func stringValue(typ protowire.Type, v []byte) (string, error) {
	if typ != protowire.BytesType {
		return "", fmt.Errorf("%w: expected length delimited string", kerrors.ErrDecoding)
	}
	if !utf8.Valid(v) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", kerrors.ErrDecoding)
	}
	return string(v), nil
}

func once(seen map[protowire.Number]bool, num protowire.Number) error {
	if seen[num] {
		return fmt.Errorf("%w: field %d repeated", kerrors.ErrDecoding, num)
	}
	seen[num] = true
	return nil
}

func wireTypeError(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("%w: field %d has unexpected wire type %d", kerrors.ErrDecoding, num, typ)
}

func unknownFieldError(num protowire.Number) error {
	return fmt.Errorf("%w: unknown field %d", kerrors.ErrDecoding, num)
}
