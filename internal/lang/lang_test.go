package lang

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, code := range []string{"en", "hi", "ta", "bn", "te"} {
		l, ok := Parse(code)
		require.True(t, ok, code)
		require.Equal(t, code, l.String())
	}

	l, ok := Parse(" HI ")
	require.True(t, ok)
	require.Equal(t, Hindi, l)

	l, ok = Parse("fr")
	require.False(t, ok)
	require.Equal(t, Default, l)

	_, ok = Parse("")
	require.False(t, ok)
}

func TestResolve_DeclaredCodeWins(t *testing.T) {
	l, fellBack := Resolve("ta", "completely english text")
	require.False(t, fellBack)
	require.Equal(t, Tamil, l)
}

func TestResolve_UnknownCodeFallsBack(t *testing.T) {
	l, fellBack := Resolve("xx", "What is the procedure to file a complaint?")
	require.True(t, fellBack)
	require.Equal(t, English, l)
}

func TestSystemPrompt_AlwaysNonEmpty(t *testing.T) {
	for _, l := range []Language{English, Hindi, Tamil, Bengali, Telugu, Language("zz")} {
		require.NotEmpty(t, SystemPrompt(l))
	}
	require.Equal(t, SystemPrompt(Default), SystemPrompt(Language("zz")))
}
