package dbops

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Prompts for the database password on the terminal when it has not
// been provided by a flag or an environment variable.
func PromptPasswordIfMissing(settings *DatabaseSettings) error {
	if settings.Password != "" {
		return nil
	}
	fmt.Printf("database password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return errors.Wrap(err, "problem reading the database password")
	}
	settings.Password = string(password)
	return nil
}
