// Package cli holds the interactive bits shared by osfctl commands.
package cli

import (
	"errors"
	"os"

	"github.com/manifoldco/promptui"
)

// Confirm asks a yes/no question. False with a nil error means the user
// declined.
type Confirm func(label string) (bool, error)

// PromptConfirm asks on the terminal.
func PromptConfirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
	}

	_, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Always answers yes without asking. Used for --yes.
func Always(string) (bool, error) {
	return true, nil
}

// ConfirmOrSkip returns Always when skip is set, otherwise ask.
func ConfirmOrSkip(skip bool, ask Confirm) Confirm {
	if skip || ask == nil {
		return Always
	}

	return ask
}
