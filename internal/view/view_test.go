package view

import (
	"testing"

	"github.com/stretchr/testify/require"

	"spark-client/internal/bus"
)

func TestTracker_Focus(t *testing.T) {
	b := bus.New()
	var changes []bus.ViewChanged
	bus.On(b, func(e bus.ViewChanged) { changes = append(changes, e) })

	tr := NewTracker(b)
	require.Equal(t, None, tr.Current())

	prev := tr.Focus(Discovery)
	require.Equal(t, None, prev)
	require.True(t, tr.IsFocused(Discovery))

	tr.Focus(Discovery)
	prev = tr.Focus(Chats)
	require.Equal(t, Discovery, prev)
	require.False(t, tr.IsFocused(Discovery))

	require.Equal(t, []bus.ViewChanged{
		{From: "", To: "discovery"},
		{From: "discovery", To: "chats"},
	}, changes)
}
