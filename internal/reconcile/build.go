package reconcile

import (
	"github.com/baludesk/baludesk-core/internal/detect"
	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/remote"
)

// BuildInputs merges a local Diff and a remote change list against the
// stored baseline into the PathInput set Classify expects. baseline is
// indexed by relative path.
func BuildInputs(localDiff *detect.Diff, remoteChanges []remote.Change, baseline map[model.RelPath]*model.FileMetadata) []PathInput {
	inputs := make(map[model.RelPath]*PathInput)

	get := func(p model.RelPath) *PathInput {
		if in, ok := inputs[p]; ok {
			return in
		}
		base, known := baseline[p]
		in := &PathInput{RelPath: p, Local: SideNone, Remote: RemoteSideNone, BaselinePresent: known}
		if known {
			in.RemoteFingerprint = base.Fingerprint
			in.RemoteModTime = base.RemoteModTime
		}
		inputs[p] = in
		return in
	}

	for _, e := range localDiff.Created {
		in := get(e.RelPath)
		in.Local = SideCreated
		in.LocalFingerprint = e.Fingerprint
		in.LocalModTime = e.ModTime
		in.LocalSize = e.Size
	}
	for _, e := range localDiff.Modified {
		in := get(e.RelPath)
		in.Local = SideModified
		in.LocalFingerprint = e.Fingerprint
		in.LocalModTime = e.ModTime
		in.LocalSize = e.Size
	}
	for _, e := range localDiff.Unchanged {
		in := get(e.RelPath)
		in.Local = SideUnchanged
		in.LocalFingerprint = e.Fingerprint
		in.LocalModTime = e.ModTime
		in.LocalSize = e.Size
	}
	for _, p := range localDiff.Deleted {
		in := get(p)
		in.Local = SideDeleted
	}

	for _, c := range remoteChanges {
		in := get(model.RelPath(c.RelPath))
		switch c.Kind {
		case remote.ChangeCreated:
			in.Remote = RemoteSideCreated
		case remote.ChangeModified:
			in.Remote = RemoteSideModified
		case remote.ChangeDeleted:
			in.Remote = RemoteSideDeleted
		}
		in.RemoteFingerprint = c.Fingerprint
		in.RemoteModTime = c.RemoteMTime
		in.RemoteSize = c.Size
	}

	out := make([]PathInput, 0, len(inputs))
	for _, in := range inputs {
		// A path with a baseline row, no local change, and no remote
		// change is "unchanged/none" — row 14 of the decision table.
		if in.BaselinePresent && in.Local == SideNone && in.Remote == RemoteSideNone {
			in.Local = SideUnchanged
		}
		// A path with a baseline row whose remote side never reported a
		// change but whose local side did: remote is implicitly unchanged
		// (row 13), distinct from "no remote row exists at all" (row 4,
		// which only arises pre-baseline and is covered above already).
		if in.BaselinePresent && in.Remote == RemoteSideNone && in.Local != SideNone && in.Local != SideDeleted {
			in.Remote = RemoteSideUnchanged
		}
		out = append(out, *in)
	}
	return out
}
