package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	env := func(name string) string {
		if name == "HOME" {
			return "/home/dev"
		}
		return ""
	}

	tests := []struct {
		command string
		want    []string
	}{
		{"sm-agent stdio", []string{"sm-agent", "stdio"}},
		{`"/opt/my agent/sm-agent" stdio`, []string{"/opt/my agent/sm-agent", "stdio"}},
		{"$HOME/bin/sm-agent stdio --flag='a b'", []string{"/home/dev/bin/sm-agent", "stdio", "--flag=a b"}},
		{"  sm-agent   ", []string{"sm-agent"}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, err := ParseCommand(tt.command, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	_, err := ParseCommand("   ", nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = ParseCommand(`sm-agent "unterminated`, nil)
	assert.Error(t, err)
}

func TestStartNotFound(t *testing.T) {
	p := New(Config{Command: "supermaven-agent-that-does-not-exist stdio"})
	err := p.Start(context.Background())

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	assert.Equal(t, "supermaven-agent-that-does-not-exist", nf.Path)
}

func TestStreamBeforeStart(t *testing.T) {
	p := New(Config{Command: "cat"})
	_, err := p.Stream()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.NoError(t, p.Stop())
}

func TestProcessEcho(t *testing.T) {
	p := New(Config{Command: "cat"})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)

	s, err := p.Stream()
	require.NoError(t, err)
	require.NoError(t, s.WriteLine([]byte(`{"kind":"activation_success"}`)))

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"activation_success"}`, string(line))

	require.NoError(t, p.Stop())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not exit")
	}
	assert.NoError(t, p.Err())
}

func TestStopKillsStubbornProcess(t *testing.T) {
	p := New(Config{Command: `sh -c 'trap "" TERM; sleep 30'`, StopTimeout: 50 * time.Millisecond})
	require.NoError(t, p.Start(context.Background()))

	start := time.Now()
	require.NoError(t, p.Stop())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent was not killed")
	}
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessExitError(t *testing.T) {
	p := New(Config{Command: "sh -c 'exit 3'"})
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not exit")
	}

	var pe *ProcessError
	require.True(t, errors.As(p.Err(), &pe))
	assert.Equal(t, 3, pe.ExitCode)
}

func TestOutputReadableAfterExit(t *testing.T) {
	p := New(Config{Command: `sh -c 'i=0; while [ $i -lt 2000 ]; do echo "line $i"; i=$((i+1)); done'`})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not exit")
	}
	require.NoError(t, p.Err())

	s, err := p.Stream()
	require.NoError(t, err)
	for i := 0; i < 2000; i++ {
		line, err := s.ReadLine()
		require.NoError(t, err, "line %d", i)
		assert.Equal(t, fmt.Sprintf("line %d", i), string(line))
	}
	_, err = s.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}
