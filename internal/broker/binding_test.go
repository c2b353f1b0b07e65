package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchBinding(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"message.created", "message.created", true},
		{"message.created", "message.updated", false},

		// * matches exactly one segment
		{"message.*", "message.created", true},
		{"message.*", "message.updated", true},
		{"message.*", "message", false},
		{"message.*", "message.reaction.added", false},
		{"channel.member.*", "channel.member.joined", true},
		{"*.created", "message.created", true},
		{"*.created", "workspace.invite.created", false},

		// # matches zero or more trailing segments
		{"#", "anything.at.all", true},
		{"workspace.#", "workspace.deleted", true},
		{"workspace.#", "workspace.invite.created", true},
		{"workspace.#", "workspace", true},
		{"workspace.#", "channel.created", false},

		{"", "message.created", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchBinding(tc.pattern, tc.key),
			"pattern %q key %q", tc.pattern, tc.key)
	}
}

func TestMatchAny(t *testing.T) {
	bindings := []string{"message.*", "workspace.#"}

	assert.True(t, MatchAny(bindings, "message.created"))
	assert.True(t, MatchAny(bindings, "workspace.invite.created"))
	assert.False(t, MatchAny(bindings, "readreceipt.updated"))
	assert.False(t, MatchAny(nil, "message.created"))
}
