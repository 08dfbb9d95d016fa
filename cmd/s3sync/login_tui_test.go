package main

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/openmined/s3sync/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeInto(m loginModel, s string) loginModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(loginModel)
}

func press(m loginModel, k tea.KeyType) (loginModel, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(loginModel), cmd
}

func TestLoginModel_TabCyclesFocus(t *testing.T) {
	m := newLoginModel(&LoginTUIOpts{})
	assert.Equal(t, fieldAccessKey, m.focus)

	m, _ = press(m, tea.KeyTab)
	assert.Equal(t, fieldSecretKey, m.focus)
	m, _ = press(m, tea.KeyTab)
	assert.Equal(t, fieldRegion, m.focus)
	m, _ = press(m, tea.KeyTab)
	assert.Equal(t, fieldAccessKey, m.focus)
	m, _ = press(m, tea.KeyShiftTab)
	assert.Equal(t, fieldRegion, m.focus)
}

func TestLoginModel_SubmitRequiresKeys(t *testing.T) {
	called := false
	m := newLoginModel(&LoginTUIOpts{SubmitHandler: func(credentials.Credentials) error {
		called = true
		return nil
	}})

	m = typeInto(m, "AKIA123")
	m, _ = press(m, tea.KeyEnter)
	m, _ = press(m, tea.KeyEnter)
	m, cmd := press(m, tea.KeyEnter)

	assert.Nil(t, cmd)
	assert.Equal(t, txtMissingField, m.errorMsg)
	assert.False(t, m.loading)
	assert.False(t, called)
}

func TestLoginModel_SubmitSuccess(t *testing.T) {
	var got credentials.Credentials
	m := newLoginModel(&LoginTUIOpts{Region: "eu-west-1", SubmitHandler: func(c credentials.Credentials) error {
		got = c
		return nil
	}})

	m = typeInto(m, "AKIA123")
	m, _ = press(m, tea.KeyEnter)
	m = typeInto(m, " secret ")
	m, _ = press(m, tea.KeyEnter)
	m, cmd := press(m, tea.KeyEnter)

	require.NotNil(t, cmd)
	assert.True(t, m.loading)

	next, quit := m.Update(cmd())
	m = next.(loginModel)
	assert.True(t, m.done)
	assert.False(t, m.loading)
	require.NotNil(t, quit)
	assert.Equal(t, tea.QuitMsg{}, quit())

	assert.Equal(t, "AKIA123", got.AccessKeyID)
	assert.Equal(t, "secret", got.SecretAccessKey)
	assert.Equal(t, "eu-west-1", got.Region)
}

func TestLoginModel_SubmitFailureShowsError(t *testing.T) {
	m := newLoginModel(&LoginTUIOpts{SubmitHandler: func(credentials.Credentials) error {
		return errors.New("bucket backup: access denied")
	}})

	m = typeInto(m, "AKIA123")
	m, _ = press(m, tea.KeyEnter)
	m = typeInto(m, "secret")
	m, _ = press(m, tea.KeyEnter)
	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)

	next, _ := m.Update(cmd())
	m = next.(loginModel)
	assert.False(t, m.done)
	assert.Contains(t, m.errorMsg, "access denied")
	assert.Equal(t, fieldAccessKey, m.focus)
	assert.Contains(t, m.View(), "access denied")
}

func TestLoginModel_EscQuits(t *testing.T) {
	m := newLoginModel(&LoginTUIOpts{})
	m, cmd := press(m, tea.KeyEsc)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.False(t, m.done)
}
