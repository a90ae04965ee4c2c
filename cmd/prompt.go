package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/input"
	"github.com/marcus/ct/internal/models"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// intensityValue is a --intensity flag accepting 1-10, or 0 to clear.
type intensityValue struct {
	set bool
	n   int
}

var _ pflag.Value = (*intensityValue)(nil)

func (v *intensityValue) String() string {
	if !v.set {
		return ""
	}
	return strconv.Itoa(v.n)
}

func (v *intensityValue) Set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*v = intensityValue{}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > models.MaxIntensity {
		return fmt.Errorf("intensity must be %d-%d (0 clears)", models.MinIntensity, models.MaxIntensity)
	}
	v.n = n
	v.set = true
	return nil
}

func (v *intensityValue) Type() string {
	return "1-10"
}

// ptr returns the rating as set, nil when the flag was not given.
func (v *intensityValue) ptr() *int {
	if !v.set {
		return nil
	}
	n := v.n
	return &n
}

// notesFlag returns --notes with "-" read from stdin and "@path" read
// from a file.
func notesFlag(cmd *cobra.Command) (string, error) {
	v, _ := cmd.Flags().GetString("notes")
	notes, err := input.ExpandValue(v, cmd.InOrStdin())
	if err != nil {
		return "", apperr.Validation(err.Error())
	}
	return notes, nil
}

// interactive reports whether prompts can be shown.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// promptRating asks for an intensity and notes after a contraction ends.
// Aborting the form skips both.
func promptRating() (*int, string, error) {
	var choice, notes string

	options := []huh.Option[string]{huh.NewOption("Skip", "")}
	for i := models.MinIntensity; i <= models.MaxIntensity; i++ {
		s := strconv.Itoa(i)
		options = append(options, huh.NewOption(s, s))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Intensity").
				Description("1 is mild, 10 is the strongest").
				Options(options...).
				Value(&choice),
			huh.NewInput().
				Title("Notes").
				Placeholder("optional").
				CharLimit(500).
				Value(&notes),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, "", nil
		}
		return nil, "", err
	}

	notes = strings.TrimSpace(notes)
	if choice == "" {
		return nil, notes, nil
	}
	n, err := strconv.Atoi(choice)
	if err != nil {
		return nil, notes, err
	}
	return &n, notes, nil
}

// confirm asks a yes/no question; non-interactive sessions get false.
func confirm(title string) (bool, error) {
	if !interactive() {
		return false, nil
	}
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(huh.NewConfirm().Title(title).Value(&ok)),
	).WithTheme(huh.ThemeDracula()).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}
