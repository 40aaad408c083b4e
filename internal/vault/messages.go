package vault

import (
	"encoding/binary"
)

const (
	shareKeyBlobDomain = "sharevault.sharekey.v1"
	shareKeyWrapDomain = "sharevault.sharekey.wrap.v1"
)

// appendField appends a u32 length prefix followed by b.
func appendField(dst []byte, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// ShareKeyWrapAAD is the associated data binding a wrapped share key to
// its share, rotation and recipient.
func ShareKeyWrapAAD(shareID string, rotation int64, recipientID string) []byte {
	out := appendField(nil, []byte(shareKeyWrapDomain))
	out = appendField(out, []byte(shareID))
	out = binary.BigEndian.AppendUint64(out, uint64(rotation))
	return appendField(out, []byte(recipientID))
}

// SignedMessage is the byte string covered by the blob signature.
func (b ShareKeyBlob) SignedMessage() []byte {
	out := appendField(nil, []byte(shareKeyBlobDomain))
	out = appendField(out, []byte(b.ShareID))
	out = binary.BigEndian.AppendUint64(out, uint64(b.Rotation))
	out = appendField(out, []byte(b.RecipientID))
	return appendField(out, b.WrappedKey)
}
