package refspec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlxos/updated/internal/refspec"
)

func TestParseFormatRoundtrip(t *testing.T) {
	cases := []string{
		"rlxos:x86_64/os/stable",
		"x86_64/os/testing",
		"rlxos:x86_64/extension/devtools/stable",
		"x86_64/extension/devtools/edge",
	}
	for _, s := range cases {
		r, err := refspec.Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, r.Format())
	}
}

func TestChannelRewriteLocality(t *testing.T) {
	r, err := refspec.Parse("rlxos:x86_64/extension/devtools/stable")
	require.NoError(t, err)

	rewritten := r.WithChannel("testing")
	assert.Equal(t, "testing", rewritten.Channel)
	assert.Equal(t, r.Remote, rewritten.Remote)
	assert.Equal(t, r.Arch, rewritten.Arch)
	assert.Equal(t, r.Kind, rewritten.Kind)
	assert.Equal(t, r.ID, rewritten.ID)
}

func TestChannelRewriteDoesNotTouchCoincidentalMatches(t *testing.T) {
	// id happens to equal the channel we're about to switch away from.
	r, err := refspec.Parse("rlxos:x86_64/extension/stable/stable")
	require.NoError(t, err)

	rewritten := r.WithChannel("testing")
	assert.Equal(t, "stable", rewritten.ID)
	assert.Equal(t, "testing", rewritten.Channel)
}

func TestParseRejectsTooFewSegments(t *testing.T) {
	_, err := refspec.Parse("rlxos:x86_64/os")
	require.Error(t, err)
}

func TestParseRejectsEmptySegment(t *testing.T) {
	_, err := refspec.Parse("x86_64//stable")
	require.Error(t, err)
}

func TestBareStripsRemote(t *testing.T) {
	r, err := refspec.Parse("rlxos:x86_64/os/stable")
	require.NoError(t, err)
	assert.Equal(t, "x86_64/os/stable", r.Bare())
}

func TestExtensionRequiresID(t *testing.T) {
	_, err := refspec.Parse("x86_64/extension/stable")
	require.Error(t, err)
}
