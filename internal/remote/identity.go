package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Identity is what the bridge learns about the remote account at connect time.
type Identity struct {
	// UID is -1 when it could not be resolved. Permission checks then always pass.
	UID    int
	Groups []int

	Root  string
	Label string

	// Android targets need busybox for id and df.
	Android   bool
	IDCommand string
	DFCommand string
}

// ProbeOptions are the user supplied values the probe may default.
type ProbeOptions struct {
	Username string
	Host     string
	Root     string
	Label    string
}

// Probe detects the remote environment and resolves the user's numeric identity.
func Probe(ctx context.Context, c Client, opts ProbeOptions) (Identity, error) {
	id := Identity{UID: -1, IDCommand: "id", DFCommand: "df"}

	if _, status, err := c.RunCommand(ctx, "test -f /system/build.prop"); err == nil && status == 0 {
		id.Android = true
		id.IDCommand = "busybox id"
		id.DFCommand = "busybox df"
	} else if err != nil && ctx.Err() != nil {
		return id, ctx.Err()
	}

	out, status, err := c.RunCommand(ctx, id.IDCommand+" -u")
	if err != nil && ctx.Err() != nil {
		return id, ctx.Err()
	}
	if err == nil && status == 0 {
		if uid, convErr := strconv.Atoi(strings.TrimSpace(out)); convErr == nil {
			id.UID = uid
		}
	}

	if id.UID != -1 {
		out, status, err = c.RunCommand(ctx, id.IDCommand+" -G")
		if err == nil && status == 0 {
			id.Groups = parseGroups(out)
		}
	}

	id.Root = opts.Root
	if id.Root == "" {
		wd, err := c.Getwd()
		if err != nil {
			return id, fmt.Errorf("failed to resolve remote working directory: %w", err)
		}
		id.Root = wd
	}
	id.Root = strings.TrimRight(id.Root, "/")

	id.Label = opts.Label
	if id.Label == "" {
		id.Label = fmt.Sprintf("%s on '%s'", opts.Username, opts.Host)
	}
	return id, nil
}

func parseGroups(out string) []int {
	fields := strings.Fields(out)
	groups := make([]int, 0, len(fields))
	for _, f := range fields {
		if gid, err := strconv.Atoi(f); err == nil {
			groups = append(groups, gid)
		}
	}
	return groups
}
