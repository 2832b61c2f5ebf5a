package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Censor_Masks_Forbidden_Words(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"idiot", "jerk"}, '*')
	req.NoError(err)

	req.Equal("you are an *****", moderator.Censor("you are an idiot"))
	req.Equal("what a ****", moderator.Censor("what a jerk"))
}

func Test_Censor_Folds_Leet_Speak_And_Separators(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"idiot"}, '*')
	req.NoError(err)

	req.Equal("***** move", moderator.Censor("1d10t move"))
	req.Equal("*********", moderator.Censor("i.d.i.o.t"))
	req.Equal("*****!", moderator.Censor("IDIOT!"))
}

func Test_NewModerator_Rejects_Empty_Word_List(t *testing.T) {
	_, err := NewModerator(nil, '*')
	require.Error(t, err)
}

func Test_Censor_Leaves_Clean_Text_Untouched(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"idiot"}, '*')
	req.NoError(err)

	clean := "see you at the sports court"
	req.Equal(clean, moderator.Censor(clean))
	req.Equal("", moderator.Censor(""))
}
