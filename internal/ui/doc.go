// Package ui provides semantic text formatting for CLI output.
//
// Formatters colorize content when the terminal supports it. When NO_COLOR
// is set or the terminal has no color support, text decorations are used
// instead:
//
//	ui.Code.Sprint("sharevault item open")  // `sharevault item open`
//	ui.Highlight.Sprint("Bank")             // 'Bank'
//	ui.Muted.Sprint("rotation 2")           // (rotation 2)
//
// Fingerprint and Rotation render key metadata consistently across
// commands.
package ui
