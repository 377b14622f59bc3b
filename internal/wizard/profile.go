package wizard

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/memohai/promobot/internal/storage"
)

// ProfileWizard is the name of the built-in profile wizard.
const ProfileWizard = "profile"

// Tones accepted by the profile wizard.
var Tones = []string{"professional", "casual", "educational", "promotional"}

var channelHandle = regexp.MustCompile(`^@[A-Za-z0-9_]{5,32}$`)

const maxProfileName = 64

// ProfileDefinition builds the wizard that captures a publishing profile and
// saves it to store on completion.
func ProfileDefinition(store storage.Store) Definition {
	return Definition{
		Name: ProfileWizard,
		Fields: []Field{
			{
				Name:   "name",
				Prompt: "What should this profile be called?",
				Validate: func(input string) (string, error) {
					if utf8.RuneCountInString(input) > maxProfileName {
						return "", fmt.Errorf("name must be at most %d characters", maxProfileName)
					}
					return input, nil
				},
			},
			{
				Name:   "channel",
				Prompt: "Which channel should it post to? Send the @handle.",
				Validate: func(input string) (string, error) {
					if !strings.HasPrefix(input, "@") {
						input = "@" + input
					}
					if !channelHandle.MatchString(input) {
						return "", fmt.Errorf("channel must be an @handle of 5-32 letters, digits or underscores")
					}
					return input, nil
				},
			},
			{
				Name:    "tone",
				Prompt:  "Pick a tone: " + strings.Join(Tones, ", ") + ".",
				Options: Tones,
			},
			{
				Name:     "topics",
				Prompt:   "List a few topics, comma separated, or send skip.",
				Optional: true,
			},
		},
		Persister: PersisterFunc(func(ctx context.Context, userID string, draft Draft) error {
			_, err := store.SaveProfile(ctx, storage.Profile{
				UserID:  userID,
				Name:    draft["name"],
				Channel: draft["channel"],
				Tone:    draft["tone"],
				Topics:  draft["topics"],
			})
			return err
		}),
	}
}
