// Package logger provides leveled logging for sharevault.
//
// Output is controlled by two flags shared by every command:
//
//   - --verbose: info and warning messages
//   - --debug: everything, including debug details
//
// Errors are always printed. Library packages take a Logger by value so a
// zero Logger is a valid, quiet logger:
//
//	log := logger.Logger{Verbose: verbose, Debug: debug}
//	log.Infof("Rotated share %s to %d", shareID, rotation)
//
// Key material must never be passed to a Logger; log share IDs, rotations
// and fingerprints instead.
package logger
