package watcher

import (
	"errors"
	"fmt"

	"github.com/dwsmith1983/deploywait/pkg/types"
)

const deploymentsField = "deployments-to-wait-for"

// WatchSet is the resolved form of a WatchRequest.
type WatchSet struct {
	// Environments lists each distinct environment once, in the order it
	// first appears in the request.
	Environments []string
	// Projects maps an environment back to the project that requested it.
	Projects map[string]string
}

// Resolve turns a WatchRequest into the environments to watch and the
// reverse environment → project lookup.
//
// Two projects naming the same environment are rejected unless allowShared
// is set, in which case the later project in request order owns the
// environment.
func Resolve(req types.WatchRequest, allowShared bool) (WatchSet, error) {
	if len(req) == 0 {
		return WatchSet{}, &types.ConfigError{Field: deploymentsField, Err: errors.New("at least one environment must be watched")}
	}

	ws := WatchSet{Projects: make(map[string]string, len(req))}
	for _, e := range req {
		if e.Project == "" {
			return WatchSet{}, &types.ConfigError{Field: deploymentsField, Err: errors.New("project name must not be empty")}
		}
		if e.Environment == "" {
			return WatchSet{}, &types.ConfigError{Field: deploymentsField, Err: fmt.Errorf("environment for project %q must not be empty", e.Project)}
		}

		prev, dup := ws.Projects[e.Environment]
		if dup && !allowShared {
			return WatchSet{}, &types.ConfigError{
				Field: deploymentsField,
				Err:   fmt.Errorf("projects %q and %q both wait for environment %q", prev, e.Project, e.Environment),
			}
		}
		if !dup {
			ws.Environments = append(ws.Environments, e.Environment)
		}
		ws.Projects[e.Environment] = e.Project
	}
	return ws, nil
}
