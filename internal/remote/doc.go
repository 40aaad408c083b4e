// Package remote stores shares, key blobs, items and invites in the
// project's .sharevault directory, which members share through version
// control or a synced folder.
//
// # Layout
//
//	.sharevault/
//	├── members/<member-id>.json
//	├── shares/<share-id>/share.json
//	├── shares/<share-id>/keys/<member-id>/<rotation>.json
//	├── shares/<share-id>/items/<item-id>.json
//	└── invites/<invite-id>.json
//
// Nothing in the directory is secret in the clear: key blobs are wrapped
// per member and signed, contents are encrypted under share or item keys.
// Readers must still treat every file as untrusted input.
package remote
