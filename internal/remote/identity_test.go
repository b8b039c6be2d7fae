package remote_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshfs/sshfs/internal/remote"
	"github.com/sshfs/sshfs/internal/remote/remotetest"
)

func TestProbe_Linux(t *testing.T) {
	t.Parallel()

	c := remotetest.New()
	c.Wd = "/home/alice/"
	var seen []string
	c.Commands = func(cmd string) (string, int, error) {
		seen = append(seen, cmd)
		switch cmd {
		case "test -f /system/build.prop":
			return "", 1, nil
		case "id -u":
			return "1000\n", 0, nil
		case "id -G":
			return "1000 27 100\n", 0, nil
		}
		return "", 127, nil
	}

	id, err := remote.Probe(context.Background(), c, remote.ProbeOptions{Username: "alice", Host: "box"})
	require.NoError(t, err)

	assert.False(t, id.Android)
	assert.Equal(t, 1000, id.UID)
	assert.Equal(t, []int{1000, 27, 100}, id.Groups)
	assert.Equal(t, "/home/alice", id.Root)
	assert.Equal(t, "alice on 'box'", id.Label)
	assert.Equal(t, "df", id.DFCommand)
	assert.Equal(t, []string{"test -f /system/build.prop", "id -u", "id -G"}, seen)
}

func TestProbe_Android(t *testing.T) {
	t.Parallel()

	c := remotetest.New()
	c.Commands = func(cmd string) (string, int, error) {
		switch cmd {
		case "test -f /system/build.prop":
			return "", 0, nil
		case "busybox id -u":
			return "0", 0, nil
		case "busybox id -G":
			return "0 3003", 0, nil
		}
		return "", 127, nil
	}

	id, err := remote.Probe(context.Background(), c, remote.ProbeOptions{
		Username: "root", Host: "phone", Root: "/sdcard", Label: "Phone",
	})
	require.NoError(t, err)

	assert.True(t, id.Android)
	assert.Equal(t, "busybox df", id.DFCommand)
	assert.Equal(t, 0, id.UID)
	assert.Equal(t, "/sdcard", id.Root)
	assert.Equal(t, "Phone", id.Label)
}

func TestProbe_UnresolvedUID(t *testing.T) {
	t.Parallel()

	c := remotetest.New()
	c.Commands = func(cmd string) (string, int, error) {
		if cmd == "id -u" {
			return "", 1, nil
		}
		return "", 1, nil
	}

	id, err := remote.Probe(context.Background(), c, remote.ProbeOptions{Root: "/srv"})
	require.NoError(t, err)
	assert.Equal(t, -1, id.UID)
	assert.Empty(t, id.Groups)
	assert.Equal(t, 2, c.Calls("RunCommand"), "groups must not be probed without a uid")
}

func TestProbe_GetwdFailure(t *testing.T) {
	t.Parallel()

	c := remotetest.New()
	c.Fail("Getwd", "", errors.New("channel closed"))

	_, err := remote.Probe(context.Background(), c, remote.ProbeOptions{})
	assert.Error(t, err)
}
