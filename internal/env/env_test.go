package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	v := Parse([]string{"A=1", "B=", "=x", "broken", "A=2", "C=a=b"})
	assert.Equal(t, Vars{"A": "2", "B": "", "C": "a=b"}, v)
}

func TestExpand(t *testing.T) {
	vars := Vars{"HOME": "/home/mc", "X": "1"}
	cases := map[string]string{
		"plain":           "plain",
		"${HOME}/world":   "/home/mc/world",
		"${X}${X}":        "11",
		"${MISSING}-tail": "-tail",
		"$HOME":           "$HOME",
		"open ${HOME":     "open ${HOME",
		"a ${X} b ${HOME": "a 1 b ${HOME",
	}
	for in, want := range cases {
		assert.Equal(t, want, Expand(in, vars), in)
	}
}

func TestCompose(t *testing.T) {
	base := Vars{"PATH": "/usr/bin", "LANG": "C"}
	out := Compose(base, []string{"PATH=${PATH}:/opt/java/bin", "EULA=true", "LANG=en_US.UTF-8"})
	assert.Equal(t, []string{
		"EULA=true",
		"LANG=en_US.UTF-8",
		"PATH=/usr/bin:/opt/java/bin",
	}, out)
}

func TestComposeLeavesBaseUntouched(t *testing.T) {
	base := Vars{"A": "1"}
	_ = Compose(base, []string{"A=2"})
	assert.Equal(t, "1", base["A"])
}

func TestFromOS(t *testing.T) {
	t.Setenv("CRAFTVISOR_ENV_TEST", "yes")
	assert.Equal(t, "yes", FromOS()["CRAFTVISOR_ENV_TEST"])
}
