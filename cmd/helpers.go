package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/briandowns/spinner"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/ui"
	"github.com/PolarWolf314/sharevault/internal/utils"
	"github.com/PolarWolf314/sharevault/internal/workflows"
)

// passphraseEnv lets scripts and CI supply the identity passphrase.
const passphraseEnv = "SHAREVAULT_PASSPHRASE"

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// spinner.FinalMSG values do NOT need trailing newlines. The cleanup function
// calls ui.EnsureNewline() on the final message before printing it.
func startSpinner(message string) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		// Ensure log output is discarded unless in verbose mode.
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		if quiet {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		if quiet {
			s.Stop()
		}

		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// sessionOptions reads the identity passphrase and returns the options
// shared by every workflow. stdinBusy is set by commands that read item
// content from stdin, so the prompt goes to the terminal instead.
func sessionOptions(stdinBusy bool) (workflows.SessionOptions, error) {
	opts := workflows.SessionOptions{Logger: Logger}

	if env, ok := os.LookupEnv(passphraseEnv); ok {
		Logger.Debugf("Using passphrase from %s", passphraseEnv)
		opts.Passphrase = []byte(env)
		return opts, nil
	}

	var (
		passphrase []byte
		err        error
	)
	if stdinBusy || !utils.IsTerminal() {
		passphrase, err = utils.ReadPassphraseFromTTY("Passphrase: ")
	} else {
		passphrase, err = utils.ReadPassphrase("Passphrase: ")
	}
	if err != nil {
		return opts, fmt.Errorf("%w (hint: set %s for non-interactive use)", err, passphraseEnv)
	}
	opts.Passphrase = passphrase
	return opts, nil
}

// formatError turns a workflow error into the message shown to the user.
func formatError(err error) string {
	switch {
	case errors.Is(err, kerrors.ErrProjectNotInitialized):
		return ui.Error.Sprint("✗") + " Sharevault has not been initialized\n" +
			ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sharevault init") + " first"

	case errors.Is(err, kerrors.ErrProjectAlreadyInitialized):
		return ui.Error.Sprint("✗") + " You are already a member of this project"

	case errors.Is(err, kerrors.ErrUserNotInitialized):
		return ui.Error.Sprint("✗") + " No identity found for this project\n" +
			ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sharevault init --email <you>") + " to create one"

	case errors.Is(err, kerrors.ErrPermissionDenied):
		return ui.Error.Sprint("✗") + " Your role does not allow this\n\n" +
			ui.Error.Sprint("Error: ") + err.Error()

	case errors.Is(err, kerrors.ErrNoAccess):
		return ui.Error.Sprint("✗") + " You don't have access to this vault\n" +
			ui.Info.Sprint("→") + " Ask the vault owner for an invite"

	case errors.Is(err, kerrors.ErrInviteRejected):
		return ui.Error.Sprint("✗") + " This invite has been rejected and cannot be used"

	case errors.Is(err, kerrors.ErrInvalidInviteTransition):
		return ui.Error.Sprint("✗") + " The invite can't do that yet\n\n" +
			ui.Error.Sprint("Error: ") + err.Error()

	case errors.Is(err, kerrors.ErrInvalidSignature), errors.Is(err, kerrors.ErrSigningKeyNotFound):
		return ui.Error.Sprint("✗") + " Signature verification failed\n" +
			ui.Warning.Sprint("⚠") + " The data may have been tampered with; nothing was accepted"

	case errors.Is(err, kerrors.ErrWrongPassphrase):
		return ui.Error.Sprint("✗") + " Wrong passphrase\n" +
			ui.Info.Sprint("→") + " Check " + ui.Code.Sprint(passphraseEnv) + " or the passphrase you typed"

	case kerrors.IsTampered(err):
		return ui.Error.Sprint("✗") + " Couldn't decrypt this item\n" +
			ui.Warning.Sprint("⚠") + " It is corrupted or was modified outside sharevault"

	case errors.Is(err, kerrors.ErrKeyNotFound):
		return ui.Error.Sprint("✗") + " No key is available for this vault\n" +
			ui.Info.Sprint("→") + " Ask the vault owner to add you again"

	default:
		return ui.Error.Sprint("✗") + " " + err.Error()
	}
}

// isUnexpectedError returns true if the error is unexpected and should cause a non-zero exit.
func isUnexpectedError(err error) bool {
	switch {
	case errors.Is(err, kerrors.ErrProjectNotInitialized),
		errors.Is(err, kerrors.ErrProjectAlreadyInitialized),
		errors.Is(err, kerrors.ErrUserNotInitialized),
		errors.Is(err, kerrors.ErrPermissionDenied),
		errors.Is(err, kerrors.ErrNoAccess),
		errors.Is(err, kerrors.ErrNoAuditLog),
		errors.Is(err, kerrors.ErrInvalidDateFormat):
		return false
	default:
		return true
	}
}

// fail sets the spinner's final message for err and returns err when it
// should produce a non-zero exit.
func fail(s *spinner.Spinner, err error) error {
	Logger.Debugf("Command failed: %v", err)
	s.FinalMSG = formatError(err)
	if isUnexpectedError(err) {
		return errReported
	}
	return nil
}

// errReported makes the process exit non-zero after the error was already shown.
var errReported = errors.New("command failed")

// IsReported reports whether err was already shown to the user.
func IsReported(err error) bool {
	return errors.Is(err, errReported)
}
