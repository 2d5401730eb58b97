package sync

import "fmt"

// Strategy names a conflict resolution policy.
type Strategy string

// Supported strategies.
const (
	// StrategyLocal keeps the local version (upload).
	StrategyLocal Strategy = "local"
	// StrategyRemote keeps the remote version (download).
	StrategyRemote Strategy = "remote"
	// StrategyNewest keeps whichever version was modified last; exact ties
	// keep local.
	StrategyNewest Strategy = "newest"
	// StrategySkip transfers neither version and reports the path.
	StrategySkip Strategy = "skip"
)

// ParseStrategy validates a strategy name from configuration or a CLI flag.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocal, StrategyRemote, StrategyNewest, StrategySkip:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("sync: unknown strategy %q (want local, remote, newest, or skip)", s)
	}
}

// Resolve applies the strategy to every conflict in the delta, moving each
// into Uploads or Downloads. Resolution is total: after Resolve the delta
// has no conflicts. Returns the paths the skip strategy left untouched.
func (d *Delta) Resolve(strategy Strategy) ([]string, error) {
	var skipped []string

	for _, c := range d.Conflicts {
		switch strategy {
		case StrategyLocal:
			d.Uploads = append(d.Uploads, c.Local)
		case StrategyRemote:
			d.Downloads = append(d.Downloads, c.Remote)
		case StrategyNewest:
			if c.Remote.LastModified.After(c.Local.LastModified) {
				d.Downloads = append(d.Downloads, c.Remote)
			} else {
				d.Uploads = append(d.Uploads, c.Local)
			}
		case StrategySkip:
			skipped = append(skipped, c.Path)
		default:
			return nil, fmt.Errorf("sync: unknown strategy %q", strategy)
		}
	}

	d.Conflicts = nil

	return skipped, nil
}
