package chat

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestMasker_Mask(t *testing.T) {
	m := DefaultMasker()

	tests := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{"clean", "good game everyone", "good game everyone", false},
		{"simple", "oh shit", "oh ****", true},
		{"case folded", "SHIT happens", "**** happens", true},
		{"punctuation boundary", "shit!", "****!", true},
		{"leet", "$h1t", "****", true},
		{"diacritics", "shït", "****", true},
		{"substring is kept", "shitake mushrooms", "shitake mushrooms", false},
		{"hate word", "you retard", "you ******", true},
		{"several", "fuck this shit", "**** this ****", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := m.Mask(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, utf8.RuneCountInString(tt.in), utf8.RuneCountInString(got), "length preserved")
		})
	}
}

func TestMasker_CustomLists(t *testing.T) {
	m := NewMasker([]string{"Rhubarb", " "}, []string{"rhubarb"})
	got, changed := m.Mask("no rhubarb here")
	assert.True(t, changed)
	assert.Equal(t, "no ******* here", got)

	empty := NewMasker()
	got, changed = empty.Mask("shit")
	assert.False(t, changed)
	assert.Equal(t, "shit", got)
}
