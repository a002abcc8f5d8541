// Package prompt provides interactive terminal prompts for CLI commands.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted (Ctrl+C).
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, ErrAborted)
}

// Interactive reports whether stdin is a terminal a prompt can read from.
func Interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Confirm prompts the user for yes/no confirmation.
// Returns ErrAborted if the user presses Ctrl+C.
func Confirm(label string, defaultYes bool) (bool, error) {
	defaultStr := "y/N"
	if defaultYes {
		defaultStr = "Y/n"
	}

	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, defaultStr),
		IsConfirm: true,
	}

	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		// promptui reports a "n" answer as ErrAbort.
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if result == "" {
			return defaultYes, nil
		}
		return false, err
	}

	result = strings.ToLower(result)
	return result == "y" || result == "yes", nil
}

// ConfirmWithForce returns true immediately if force is true. Otherwise it
// prompts when stdin is a terminal and returns false when it is not.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	if !Interactive() {
		return false, nil
	}
	return Confirm(label, false)
}
